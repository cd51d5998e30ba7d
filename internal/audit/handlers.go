package audit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apperrors "nestora-backend/internal/errors"
	"nestora-backend/pkg/utils"
)

// Handler serves the audit-log read surface.
type Handler struct {
	trail *Recorder
}

// NewHandler builds an audit Handler.
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{trail: NewRecorder(db)}
}

// HandleList returns audit entries, most recent first.
// Query: ?search=&actionType=&limit=&offset=
func (h *Handler) HandleList(c *gin.Context) {
	limit := 50
	if parsed, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && parsed > 0 {
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}
	offset := 0
	if parsed, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && parsed >= 0 {
		offset = parsed
	}

	entries, total, err := h.trail.List(ListFilter{
		Search: c.Query("search"),
		Action: c.Query("actionType"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch audit log"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}
