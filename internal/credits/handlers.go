package credits

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

// Handler serves the credit ledger surface.
type Handler struct {
	db     *gorm.DB
	ledger *Ledger
	trail  *audit.Recorder
}

// NewHandler builds a credits Handler.
func NewHandler(db *gorm.DB, trail *audit.Recorder) *Handler {
	return &Handler{db: db, ledger: NewLedger(db), trail: trail}
}

type grantRequest struct {
	OrganizationID uint   `json:"organization_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// HandleGrant applies a credit grant. Validation and organization existence
// are checked before any mutation; the grant itself is atomic in the store.
func (h *Handler) HandleGrant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("organization_id/amount", "organization_id and amount are required"))
		return
	}
	if req.Amount <= 0 {
		utils.SendError(c, apperrors.Validation("amount", "Amount must be positive"))
		return
	}

	var org models.Organization
	if err := h.db.First(&org, req.OrganizationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Organization"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load organization"))
		return
	}

	principal := auth.PrincipalFrom(c)
	result, err := h.ledger.Grant(req.OrganizationID, req.Amount, req.Reason, principal.UserID, req.IdempotencyKey)
	if err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to grant credits"))
		return
	}

	if !result.Replayed {
		h.trail.Record(c, principal.UserID, "grant_credits", "organization",
			strconv.FormatUint(uint64(req.OrganizationID), 10),
			nil,
			gin.H{"new_balance": result.NewBalance, "transaction_id": result.TransactionID, "amount": req.Amount},
			gin.H{"reason": req.Reason},
		)
	}

	c.JSON(http.StatusOK, gin.H{
		"organization_id": req.OrganizationID,
		"new_balance":     result.NewBalance,
		"transaction_id":  result.TransactionID,
		"replayed":        result.Replayed,
	})
}

// HandleGetOrganizationCredits returns the ledger summary. Non-super-admin
// staff get the redaction marker in place of every financial value.
func (h *Handler) HandleGetOrganizationCredits(c *gin.Context) {
	orgID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		utils.SendError(c, apperrors.Validation("id", "Invalid organization id"))
		return
	}

	var org models.Organization
	if err := h.db.First(&org, orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Organization"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load organization"))
		return
	}

	principal := auth.PrincipalFrom(c)
	if !principal.IsSuperAdmin() {
		marker := auth.RedactAmount(principal, 0)
		c.JSON(http.StatusOK, gin.H{
			"organization_id": org.ID,
			"balance":         marker,
			"total_granted":   marker,
			"total_used":      marker,
		})
		return
	}

	summary, sumErr := h.ledger.Summarize(org.ID)
	if sumErr != nil {
		utils.SendError(c, apperrors.Dependency(sumErr, "Failed to summarize ledger"))
		return
	}
	c.JSON(http.StatusOK, summary)
}
