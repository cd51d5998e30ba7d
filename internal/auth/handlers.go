package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apperrors "nestora-backend/internal/errors"
	"nestora-backend/internal/models"
	"nestora-backend/pkg/utils"
)

// Handler serves the staff login endpoint.
type Handler struct {
	db *gorm.DB
}

// NewHandler builds an auth Handler.
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// HandleLogin verifies staff credentials and issues a bearer token. Role
// enforcement happens at the gate, not here; a token for a non-staff user is
// issued but useless.
func (h *Handler) HandleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("email/password", "Email and password are required"))
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.Unauthenticated("Invalid credentials"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load user"))
		return
	}

	if user.Suspended || !CheckPassword(req.Password, user.Password) {
		utils.SendError(c, apperrors.Unauthenticated("Invalid credentials"))
		return
	}

	token, expiry, err := GenerateToken(user, 12*time.Hour)
	if err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to issue token"))
		return
	}

	now := time.Now()
	h.db.Model(&user).Update("last_sign_in_at", &now)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiry,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
	})
}
