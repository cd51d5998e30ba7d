package users

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"nestora-backend/internal/audit"
	"nestora-backend/internal/auth"
	apperrors "nestora-backend/internal/errors"
	"nestora-backend/internal/models"
	"nestora-backend/pkg/utils"
)

const bulkMax = 50

// Handler serves the user admin surface.
type Handler struct {
	db        *gorm.DB
	trail     *audit.Recorder
	roleCache *auth.RoleCache
}

// NewHandler builds a users Handler. roleCache may be nil.
func NewHandler(db *gorm.DB, trail *audit.Recorder, roleCache *auth.RoleCache) *Handler {
	return &Handler{db: db, trail: trail, roleCache: roleCache}
}

// HandleList returns a paged, searchable user list.
func (h *Handler) HandleList(c *gin.Context) {
	limit := 25
	if parsed, err := strconv.Atoi(c.DefaultQuery("limit", "25")); err == nil && parsed > 0 {
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}
	offset := 0
	if parsed, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && parsed >= 0 {
		offset = parsed
	}

	query := h.db.Model(&models.User{})
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("email LIKE ? OR name LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to count users"))
		return
	}

	var users []models.User
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch users"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users, "total": total, "limit": limit, "offset": offset})
}

type bulkActionRequest struct {
	UserIDs []uint `json:"userIds" binding:"required"`
	Action  string `json:"action" binding:"required"`
	Reason  string `json:"reason"`
}

type bulkItemResult struct {
	ID      uint   `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HandleBulkAction suspends or unsuspends up to 50 users. Items are processed
// independently; a partial failure is reported, not rolled back.
func (h *Handler) HandleBulkAction(c *gin.Context) {
	var req bulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.UserIDs) == 0 {
		utils.SendError(c, apperrors.Validation("userIds/action", "userIds and action are required"))
		return
	}
	if req.Action != "suspend" && req.Action != "unsuspend" {
		utils.SendError(c, apperrors.Validation("action", "action must be suspend or unsuspend"))
		return
	}
	if len(req.UserIDs) > bulkMax {
		utils.SendError(c, apperrors.Validation("userIds", "At most 50 users per request"))
		return
	}

	principal := auth.PrincipalFrom(c)
	suspend := req.Action == "suspend"
	results := make([]bulkItemResult, 0, len(req.UserIDs))
	allOK := true

	for _, id := range req.UserIDs {
		var user models.User
		if err := h.db.First(&user, id).Error; err != nil {
			allOK = false
			results = append(results, bulkItemResult{ID: id, Success: false, Error: "user not found"})
			continue
		}

		before := user
		updates := map[string]interface{}{"suspended": suspend}
		if suspend {
			updates["suspend_reason"] = req.Reason
		} else {
			updates["suspend_reason"] = ""
		}
		if err := h.db.Model(&user).Updates(updates).Error; err != nil {
			allOK = false
			results = append(results, bulkItemResult{ID: id, Success: false, Error: "update failed"})
			continue
		}

		h.trail.Record(c, principal.UserID, req.Action+"_user", "user",
			strconv.FormatUint(uint64(id), 10),
			gin.H{"suspended": before.Suspended},
			gin.H{"suspended": suspend},
			gin.H{"reason": req.Reason})
		results = append(results, bulkItemResult{ID: id, Success: true})
	}

	c.JSON(http.StatusOK, gin.H{"success": allOK, "results": results})
}

type bulkDeleteRequest struct {
	UserIDs []uint `json:"userIds" binding:"required"`
}

// HandleBulkDelete permanently deletes up to 50 users. The caller's own id is
// rejected outright before any deletion happens.
func (h *Handler) HandleBulkDelete(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.UserIDs) == 0 {
		utils.SendError(c, apperrors.Validation("userIds", "userIds is required"))
		return
	}
	if len(req.UserIDs) > bulkMax {
		utils.SendError(c, apperrors.Validation("userIds", "At most 50 users per request"))
		return
	}

	principal := auth.PrincipalFrom(c)
	for _, id := range req.UserIDs {
		if id == principal.UserID {
			utils.SendError(c, apperrors.Validation("userIds", "Cannot delete your own account"))
			return
		}
	}

	results := make([]bulkItemResult, 0, len(req.UserIDs))
	allOK := true
	for _, id := range req.UserIDs {
		var user models.User
		if err := h.db.First(&user, id).Error; err != nil {
			allOK = false
			results = append(results, bulkItemResult{ID: id, Success: false, Error: "user not found"})
			continue
		}

		err := h.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("user_id = ?", id).Delete(&models.UserRole{}).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", id).Delete(&models.OrganizationMember{}).Error; err != nil {
				return err
			}
			return tx.Delete(&models.User{}, id).Error
		})
		if err != nil {
			allOK = false
			results = append(results, bulkItemResult{ID: id, Success: false, Error: "delete failed"})
			continue
		}

		h.roleCache.Invalidate(c.Request.Context(), id)
		h.trail.Record(c, principal.UserID, "delete_user", "user",
			strconv.FormatUint(uint64(id), 10), user, nil, nil)
		results = append(results, bulkItemResult{ID: id, Success: true})
	}

	c.JSON(http.StatusOK, gin.H{"success": allOK, "results": results})
}

type changeRoleRequest struct {
	UserID uint   `json:"userId" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

var assignableRoles = map[string]bool{
	models.RoleSuperAdmin: true,
	models.RoleDeveloper:  true,
	models.RoleAdmin:      true,
	models.RoleUser:       true,
}

// HandleChangeRole replaces a user's role set with the single given role.
// Changing your own role is rejected regardless of tier.
func (h *Handler) HandleChangeRole(c *gin.Context) {
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("userId/role", "userId and role are required"))
		return
	}
	if !assignableRoles[req.Role] {
		utils.SendError(c, apperrors.Validation("role", "Unknown role"))
		return
	}

	principal := auth.PrincipalFrom(c)
	if req.UserID == principal.UserID {
		utils.SendError(c, apperrors.Validation("userId", "Cannot change your own role"))
		return
	}

	var user models.User
	if err := h.db.First(&user, req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("User"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load user"))
		return
	}

	var beforeRoles []models.UserRole
	h.db.Where("user_id = ?", req.UserID).Find(&beforeRoles)

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", req.UserID).Delete(&models.UserRole{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.UserRole{UserID: req.UserID, Role: req.Role}).Error
	})
	if err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to change role"))
		return
	}

	h.roleCache.Invalidate(c.Request.Context(), req.UserID)

	before := make([]string, 0, len(beforeRoles))
	for _, r := range beforeRoles {
		before = append(before, r.Role)
	}
	h.trail.Record(c, principal.UserID, "change_role", "user",
		strconv.FormatUint(uint64(req.UserID), 10),
		gin.H{"roles": before}, gin.H{"roles": []string{req.Role}}, nil)

	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "role": req.Role})
}
