package impersonation

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"nestora-backend/internal/audit"
	"nestora-backend/internal/auth"
	apperrors "nestora-backend/internal/errors"
	"nestora-backend/internal/models"
	"nestora-backend/pkg/utils"
)

// Handler manages support impersonation sessions. The state machine per super
// admin is NoSession -> Active -> NoSession; the store's partial unique index
// guarantees at most one active session per admin even under concurrent
// starts.
type Handler struct {
	db    *gorm.DB
	trail *audit.Recorder
}

// NewHandler builds an impersonation Handler.
func NewHandler(db *gorm.DB, trail *audit.Recorder) *Handler {
	return &Handler{db: db, trail: trail}
}

type startRequest struct {
	OrganizationID uint   `json:"organizationId" binding:"required"`
	Reason         string `json:"reason"`
}

// HandleStart opens a session against a tenant. An existing active session
// for the caller is a Conflict, never silently reused: the insert races
// against the unique index and a duplicate-key failure maps to 409.
func (h *Handler) HandleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("organizationId", "organizationId is required"))
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
	session := models.ImpersonationSession{
		SessionID:      uuid.NewString(),
		SuperAdminID:   principal.UserID,
		OrganizationID: org.ID,
		Reason:         req.Reason,
		StartedAt:      time.Now(),
	}

	if err := h.db.Create(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.SendError(c, apperrors.Conflict("An impersonation session is already active for this admin"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to start impersonation session"))
		return
	}

	h.trail.Record(c, principal.UserID, "start_impersonation", "organization",
		strconv.FormatUint(uint64(org.ID), 10),
		nil,
		gin.H{"session_id": session.SessionID, "organization_id": org.ID},
		gin.H{"reason": req.Reason},
	)

	c.JSON(http.StatusOK, gin.H{
		"session_id":        session.SessionID,
		"organization_id":   org.ID,
		"organization_name": org.Name,
		"started_at":        session.StartedAt,
	})
}

// HandleEnd closes the caller's active session. Ending with no active session
// is a successful no-op so retries are always safe. The audit entry is keyed
// off the session's stored organization id, never caller-supplied data.
func (h *Handler) HandleEnd(c *gin.Context) {
	principal := auth.PrincipalFrom(c)

	var session models.ImpersonationSession
	err := h.db.Where("super_admin_id = ? AND ended_at IS NULL", principal.UserID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusOK, gin.H{"ended": false, "message": "No active impersonation session"})
		return
	}
	if err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to look up impersonation session"))
		return
	}

	// Re-check ended_at inside the update so a racing end cannot close the
	// same session twice; only the winning caller writes the audit entry.
	now := time.Now()
	res := h.db.Model(&models.ImpersonationSession{}).
		Where("id = ? AND ended_at IS NULL", session.ID).
		Update("ended_at", &now)
	if res.Error != nil {
		utils.SendError(c, apperrors.Dependency(res.Error, "Failed to end impersonation session"))
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusOK, gin.H{"ended": false, "message": "No active impersonation session"})
		return
	}

	h.trail.Record(c, principal.UserID, "end_impersonation", "organization",
		strconv.FormatUint(uint64(session.OrganizationID), 10),
		gin.H{"session_id": session.SessionID, "started_at": session.StartedAt},
		gin.H{"session_id": session.SessionID, "ended_at": now},
		nil,
	)

	c.JSON(http.StatusOK, gin.H{
		"ended":      true,
		"session_id": session.SessionID,
		"ended_at":   now,
	})
}
