package gdpr

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

// Handler serves the GDPR request workflow.
type Handler struct {
	db       *gorm.DB
	workflow *Workflow
	trail    *audit.Recorder
}

// NewHandler builds a gdpr Handler.
func NewHandler(db *gorm.DB, trail *audit.Recorder) *Handler {
	return &Handler{db: db, workflow: NewWorkflow(db), trail: trail}
}

// HandleList returns requests most-recent-first, optionally filtered by
// ?status=.
func (h *Handler) HandleList(c *gin.Context) {
	query := h.db.Model(&models.GdprDataRequest{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var requests []models.GdprDataRequest
	if err := query.Order("created_at DESC").Find(&requests).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch GDPR requests"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "total": len(requests)})
}

type createRequest struct {
	RequestType string `json:"request_type" binding:"required"`
	TargetType  string `json:"target_type" binding:"required"`
	TargetID    *uint  `json:"target_id"`
	TargetEmail string `json:"target_email"`
	Notes       string `json:"notes"`
}

// HandleCreate opens a new request in pending status.
func (h *Handler) HandleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("request_type/target_type", "request_type and target_type are required"))
		return
	}
	if !ValidRequestType(req.RequestType) {
		utils.SendError(c, apperrors.Validation("request_type", "request_type must be data_export, data_deletion or access_request"))
		return
	}
	if !ValidTargetType(req.TargetType) {
		utils.SendError(c, apperrors.Validation("target_type", "target_type must be user or organization"))
		return
	}
	if req.TargetID == nil && req.TargetEmail == "" {
		utils.SendError(c, apperrors.Validation("target_id/target_email", "At least one of target_id or target_email is required"))
		return
	}

	principal := auth.PrincipalFrom(c)
	request := models.GdprDataRequest{
		RequestType: req.RequestType,
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		TargetEmail: req.TargetEmail,
		Status:      models.GdprStatusPending,
		Notes:       req.Notes,
		RequestedBy: principal.UserID,
	}
	if err := h.db.Create(&request).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to create GDPR request"))
		return
	}

	h.trail.Record(c, principal.UserID, "create_gdpr_request", "gdpr_request",
		strconv.FormatUint(uint64(request.ID), 10), nil, request, nil)

	c.JSON(http.StatusCreated, gin.H{"request": request})
}

type processRequest struct {
	Action string `json:"action" binding:"required"`
	Reason string `json:"reason"`
}

// HandleProcess completes or rejects a pending request. Terminal requests
// cannot transition again.
func (h *Handler) HandleProcess(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		utils.SendError(c, apperrors.Validation("id", "Invalid request id"))
		return
	}

	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("action", "action is required"))
		return
	}
	if req.Action != "complete" && req.Action != "reject" {
		utils.SendError(c, apperrors.Validation("action", "action must be complete or reject"))
		return
	}

	var request models.GdprDataRequest
	if err := h.db.First(&request, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("GDPR request"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load GDPR request"))
		return
	}

	before := request
	if err := h.workflow.Process(&request, req.Action, req.Reason); err != nil {
		if errors.Is(err, ErrNotPending) {
			utils.SendError(c, apperrors.Conflict("Request has already been processed"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to process GDPR request"))
		return
	}

	principal := auth.PrincipalFrom(c)
	h.trail.Record(c, principal.UserID, "process_gdpr_request", "gdpr_request",
		strconv.FormatUint(uint64(request.ID), 10), before, request,
		gin.H{"action": req.Action, "reason": req.Reason})

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// HandleExport assembles the scoped data snapshot for an export-capable
// request. Exporting is audited but deliberately does not advance the request
// status; process must still be called to close it.
func (h *Handler) HandleExport(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		utils.SendError(c, apperrors.Validation("id", "Invalid request id"))
		return
	}

	var request models.GdprDataRequest
	if err := h.db.First(&request, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("GDPR request"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load GDPR request"))
		return
	}

	if request.RequestType != models.GdprTypeDataExport && request.RequestType != models.GdprTypeAccessRequest {
		utils.SendError(c, apperrors.Validation("request_type", "Only data_export and access_request types can be exported"))
		return
	}

	var payload interface{}
	switch request.TargetType {
	case models.GdprTargetUser:
		user, appErr := h.resolveUser(request)
		if appErr != nil {
			utils.SendError(c, appErr)
			return
		}
		export, expErr := h.workflow.ExportUser(*user)
		if expErr != nil {
			utils.SendError(c, apperrors.Dependency(expErr, "Failed to assemble user export"))
			return
		}
		payload = export
	case models.GdprTargetOrganization:
		if request.TargetID == nil {
			utils.SendError(c, apperrors.Validation("target_id", "Organization targets require target_id"))
			return
		}
		var org models.Organization
		if err := h.db.First(&org, *request.TargetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				utils.SendError(c, apperrors.NotFound("Organization"))
				return
			}
			utils.SendError(c, apperrors.Dependency(err, "Failed to load organization"))
			return
		}
		export, expErr := h.workflow.ExportOrganization(org)
		if expErr != nil {
			utils.SendError(c, apperrors.Dependency(expErr, "Failed to assemble organization export"))
			return
		}
		payload = export
	default:
		utils.SendError(c, apperrors.Validation("target_type", "Unknown target type"))
		return
	}

	principal := auth.PrincipalFrom(c)
	h.trail.Record(c, principal.UserID, "generate_gdpr_export", "gdpr_request",
		strconv.FormatUint(uint64(request.ID), 10), nil,
		gin.H{"request_type": request.RequestType, "target_type": request.TargetType},
		nil)

	c.JSON(http.StatusOK, gin.H{"request_id": request.ID, "export": payload})
}

// resolveUser finds the user target by id, falling back to an email lookup.
func (h *Handler) resolveUser(request models.GdprDataRequest) (*models.User, *apperrors.AppError) {
	var user models.User
	var err error
	if request.TargetID != nil {
		err = h.db.First(&user, *request.TargetID).Error
	} else {
		err = h.db.Where("email = ?", request.TargetEmail).First(&user).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("User")
		}
		return nil, apperrors.Dependency(err, "Failed to load user")
	}
	return &user, nil
}
