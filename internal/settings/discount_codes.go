package settings

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"nestora-backend/internal/audit"
	"nestora-backend/internal/auth"
	apperrors "nestora-backend/internal/errors"
	"nestora-backend/internal/models"
	"nestora-backend/pkg/utils"
)

// Handler serves the keyed configuration entities: discount codes, feature
// flags, usage rates and AI instruction sets. Every mutation shares the audit
// trail contract.
type Handler struct {
	db    *gorm.DB
	trail *audit.Recorder
}

// NewHandler builds a settings Handler.
func NewHandler(db *gorm.DB, trail *audit.Recorder) *Handler {
	return &Handler{db: db, trail: trail}
}

func (h *Handler) record(c *gin.Context, action, targetType string, targetID uint, before, after interface{}) {
	principal := auth.PrincipalFrom(c)
	h.trail.Record(c, principal.UserID, action, targetType,
		strconv.FormatUint(uint64(targetID), 10), before, after, nil)
}

func parseID(c *gin.Context) (uint, *apperrors.AppError) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, apperrors.Validation("id", "Invalid id")
	}
	return uint(id), nil
}

// HandleListDiscountCodes returns all discount codes.
func (h *Handler) HandleListDiscountCodes(c *gin.Context) {
	var codes []models.DiscountCode
	if err := h.db.Order("id ASC").Find(&codes).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch discount codes"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"discount_codes": codes, "total": len(codes)})
}

type discountCodeRequest struct {
	Code           string     `json:"code" binding:"required"`
	PercentOff     int        `json:"percent_off" binding:"required"`
	MaxRedemptions int        `json:"max_redemptions"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Active         *bool      `json:"active"`
}

// HandleCreateDiscountCode creates a discount code.
func (h *Handler) HandleCreateDiscountCode(c *gin.Context) {
	var req discountCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("code/percent_off", "code and percent_off are required"))
		return
	}
	if req.PercentOff <= 0 || req.PercentOff > 100 {
		utils.SendError(c, apperrors.Validation("percent_off", "percent_off must be between 1 and 100"))
		return
	}

	code := models.DiscountCode{
		Code:           req.Code,
		PercentOff:     req.PercentOff,
		MaxRedemptions: req.MaxRedemptions,
		ExpiresAt:      req.ExpiresAt,
		Active:         true,
	}
	if req.Active != nil {
		code.Active = *req.Active
	}

	if err := h.db.Create(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.SendError(c, apperrors.Conflict("Discount code already exists"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to create discount code"))
		return
	}

	h.record(c, "create_discount_code", "discount_code", code.ID, nil, code)
	c.JSON(http.StatusCreated, gin.H{"discount_code": code})
}

// HandleUpdateDiscountCode partially updates a discount code.
func (h *Handler) HandleUpdateDiscountCode(c *gin.Context) {
	id, appErr := parseID(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var code models.DiscountCode
	if err := h.db.First(&code, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Discount code"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load discount code"))
		return
	}

	var req struct {
		PercentOff     *int       `json:"percent_off"`
		MaxRedemptions *int       `json:"max_redemptions"`
		ExpiresAt      *time.Time `json:"expires_at"`
		Active         *bool      `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("body", "Invalid request body"))
		return
	}

	before := code
	if req.PercentOff != nil {
		code.PercentOff = *req.PercentOff
	}
	if req.MaxRedemptions != nil {
		code.MaxRedemptions = *req.MaxRedemptions
	}
	if req.ExpiresAt != nil {
		code.ExpiresAt = req.ExpiresAt
	}
	if req.Active != nil {
		code.Active = *req.Active
	}

	if err := h.db.Save(&code).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to update discount code"))
		return
	}

	h.record(c, "update_discount_code", "discount_code", code.ID, before, code)
	c.JSON(http.StatusOK, gin.H{"discount_code": code})
}

// HandleDeleteDiscountCode deletes a discount code.
func (h *Handler) HandleDeleteDiscountCode(c *gin.Context) {
	id, appErr := parseID(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var code models.DiscountCode
	if err := h.db.First(&code, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Discount code"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load discount code"))
		return
	}

	if err := h.db.Delete(&code).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to delete discount code"))
		return
	}

	h.record(c, "delete_discount_code", "discount_code", code.ID, code, nil)
	c.JSON(http.StatusOK, gin.H{"message": "Discount code deleted"})
}
