package organizations

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"nestora-backend/internal/audit"
	"nestora-backend/internal/auth"
	"nestora-backend/internal/billing"
	apperrors "nestora-backend/internal/errors"
	"nestora-backend/internal/models"
	"nestora-backend/pkg/utils"
)

const bulkDeleteMax = 10

// Handler serves the organization admin surface.
type Handler struct {
	db    *gorm.DB
	trail *audit.Recorder
}

// NewHandler builds an organizations Handler.
func NewHandler(db *gorm.DB, trail *audit.Recorder) *Handler {
	return &Handler{db: db, trail: trail}
}

// orgView is one listing row; the credit balance is redacted per caller tier.
type orgView struct {
	models.Organization
	CreditBalance interface{} `json:"credit_balance"`
	MemberCount   int64       `json:"member_count"`
}

// HandleList returns a paged, searchable organization list.
// Query: ?search=&limit=&offset=
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

	query := h.db.Model(&models.Organization{})
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("name LIKE ? OR slug LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to count organizations"))
		return
	}

	var orgs []models.Organization
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orgs).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch organizations"))
		return
	}

	principal := auth.PrincipalFrom(c)
	views := make([]orgView, len(orgs))
	balances := h.loadBalances(orgs)
	memberCounts := h.loadMemberCounts(orgs)
	for i, org := range orgs {
		views[i] = orgView{
			Organization:  org,
			CreditBalance: auth.RedactAmount(principal, balances[org.ID]),
			MemberCount:   memberCounts[org.ID],
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"organizations": views,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *Handler) loadBalances(orgs []models.Organization) map[uint]int64 {
	ids := make([]uint, len(orgs))
	for i, org := range orgs {
		ids[i] = org.ID
	}
	balances := make(map[uint]int64, len(ids))
	if len(ids) == 0 {
		return balances
	}

	var rows []models.OrganizationCreditBalance
	if err := h.db.Where("organization_id IN ?", ids).Find(&rows).Error; err != nil {
		log.WithError(err).Warn("failed to load credit balances for organization listing")
		return balances
	}
	for _, row := range rows {
		balances[row.OrganizationID] = row.Balance
	}
	return balances
}

func (h *Handler) loadMemberCounts(orgs []models.Organization) map[uint]int64 {
	counts := make(map[uint]int64, len(orgs))
	if len(orgs) == 0 {
		return counts
	}
	ids := make([]uint, len(orgs))
	for i, org := range orgs {
		ids[i] = org.ID
	}

	var rows []struct {
		OrganizationID uint
		Total          int64
	}
	if err := h.db.Model(&models.OrganizationMember{}).
		Select("organization_id, COUNT(*) AS total").
		Where("organization_id IN ?", ids).
		Group("organization_id").
		Scan(&rows).Error; err != nil {
		log.WithError(err).Warn("failed to load member counts for organization listing")
		return counts
	}
	for _, row := range rows {
		counts[row.OrganizationID] = row.Total
	}
	return counts
}

// HandleGet returns one organization.
func (h *Handler) HandleGet(c *gin.Context) {
	org, appErr := h.loadOrg(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var memberCount int64
	h.db.Model(&models.OrganizationMember{}).Where("organization_id = ?", org.ID).Count(&memberCount)

	c.JSON(http.StatusOK, gin.H{"organization": org, "member_count": memberCount})
}

type planRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// HandleChangePlan updates the subscription plan and syncs the change to
// Stripe when configured. The local change is authoritative.
func (h *Handler) HandleChangePlan(c *gin.Context) {
	org, appErr := h.loadOrg(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("plan", "plan is required"))
		return
	}

	before := *org
	if err := h.db.Model(org).Update("plan", req.Plan).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to update plan"))
		return
	}
	org.Plan = req.Plan

	if err := billing.SyncPlanChange(*org, req.Plan); err != nil {
		log.WithError(err).WithField("organization_id", org.ID).Error("Stripe plan sync failed")
		utils.CaptureSentryError(c, err, "billing.plan_sync_failed", map[string]interface{}{
			"organization_id": org.ID,
			"plan":            req.Plan,
		})
	}

	principal := auth.PrincipalFrom(c)
	h.trail.Record(c, principal.UserID, "change_plan", "organization",
		strconv.FormatUint(uint64(org.ID), 10),
		gin.H{"plan": before.Plan}, gin.H{"plan": org.Plan}, nil)

	c.JSON(http.StatusOK, gin.H{"organization": org})
}

// HandleListListings returns the organization's property listings for staff
// inspection.
func (h *Handler) HandleListListings(c *gin.Context) {
	org, appErr := h.loadOrg(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var listings []models.Listing
	if err := h.db.Where("organization_id = ?", org.ID).
		Order("created_at DESC").Limit(500).
		Find(&listings).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch listings"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"organization_id": org.ID, "listings": listings, "total": len(listings)})
}

type bulkDeleteRequest struct {
	OrganizationIDs []uint `json:"organizationIds" binding:"required"`
}

type bulkItemResult struct {
	ID      uint   `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HandleBulkDelete deletes up to 10 organizations. Each organization's
// cascade runs inside its own transaction so a failure cannot leave it
// half-deleted; the batch itself is never all-or-nothing.
func (h *Handler) HandleBulkDelete(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.OrganizationIDs) == 0 {
		utils.SendError(c, apperrors.Validation("organizationIds", "organizationIds is required"))
		return
	}
	if len(req.OrganizationIDs) > bulkDeleteMax {
		utils.SendError(c, apperrors.Validation("organizationIds", "At most 10 organizations per request"))
		return
	}

	principal := auth.PrincipalFrom(c)
	results := make([]bulkItemResult, 0, len(req.OrganizationIDs))
	allOK := true

	for _, id := range req.OrganizationIDs {
		if err := h.deleteOne(c, id, principal); err != nil {
			allOK = false
			results = append(results, bulkItemResult{ID: id, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, bulkItemResult{ID: id, Success: true})
	}

	c.JSON(http.StatusOK, gin.H{"success": allOK, "results": results})
}

// deleteOne removes an organization and its dependent rows in one
// transaction. GDPR requests referencing the organization are kept as
// compliance records.
func (h *Handler) deleteOne(c *gin.Context, id uint, principal auth.Principal) error {
	var org models.Organization
	if err := h.db.First(&org, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("organization not found")
		}
		return errors.New("failed to load organization")
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&models.OrganizationMember{},
			&models.Listing{},
			&models.CreditTransaction{},
			&models.OrganizationCreditBalance{},
			&models.ImpersonationSession{},
		} {
			if err := tx.Where("organization_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Organization{}, id).Error
	})
	if err != nil {
		log.WithError(err).WithField("organization_id", id).Error("organization cascade delete failed")
		return errors.New("delete failed")
	}

	h.trail.Record(c, principal.UserID, "delete_organization", "organization",
		strconv.FormatUint(uint64(id), 10), org, nil, nil)
	return nil
}

func (h *Handler) loadOrg(c *gin.Context) (*models.Organization, *apperrors.AppError) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return nil, apperrors.Validation("id", "Invalid organization id")
	}

	var org models.Organization
	if err := h.db.First(&org, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Organization")
		}
		return nil, apperrors.Dependency(err, "Failed to load organization")
	}
	return &org, nil
}
