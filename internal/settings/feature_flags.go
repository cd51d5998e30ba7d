package settings

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apperrors "nestora-backend/internal/errors"
	"nestora-backend/internal/models"
	"nestora-backend/pkg/utils"
)

// HandleListFeatureFlags returns all feature flags.
func (h *Handler) HandleListFeatureFlags(c *gin.Context) {
	var flags []models.FeatureFlag
	if err := h.db.Order("key ASC").Find(&flags).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch feature flags"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"feature_flags": flags, "total": len(flags)})
}

type featureFlagRequest struct {
	Key            string `json:"key" binding:"required"`
	Description    string `json:"description"`
	Enabled        *bool  `json:"enabled"`
	RolloutPercent *int   `json:"rollout_percent"`
}

// HandleCreateFeatureFlag creates a feature flag.
func (h *Handler) HandleCreateFeatureFlag(c *gin.Context) {
	var req featureFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("key", "key is required"))
		return
	}

	flag := models.FeatureFlag{
		Key:            req.Key,
		Description:    req.Description,
		RolloutPercent: 100,
	}
	if req.Enabled != nil {
		flag.Enabled = *req.Enabled
	}
	if req.RolloutPercent != nil {
		flag.RolloutPercent = *req.RolloutPercent
	}

	if err := h.db.Create(&flag).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.SendError(c, apperrors.Conflict("Feature flag already exists"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to create feature flag"))
		return
	}

	h.record(c, "create_feature_flag", "feature_flag", flag.ID, nil, flag)
	c.JSON(http.StatusCreated, gin.H{"feature_flag": flag})
}

// HandleUpdateFeatureFlag partially updates a feature flag.
func (h *Handler) HandleUpdateFeatureFlag(c *gin.Context) {
	id, appErr := parseID(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var flag models.FeatureFlag
	if err := h.db.First(&flag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Feature flag"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load feature flag"))
		return
	}

	var req struct {
		Description    *string `json:"description"`
		Enabled        *bool   `json:"enabled"`
		RolloutPercent *int    `json:"rollout_percent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("body", "Invalid request body"))
		return
	}

	before := flag
	if req.Description != nil {
		flag.Description = *req.Description
	}
	if req.Enabled != nil {
		flag.Enabled = *req.Enabled
	}
	if req.RolloutPercent != nil {
		flag.RolloutPercent = *req.RolloutPercent
	}

	if err := h.db.Save(&flag).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to update feature flag"))
		return
	}

	h.record(c, "update_feature_flag", "feature_flag", flag.ID, before, flag)
	c.JSON(http.StatusOK, gin.H{"feature_flag": flag})
}

// HandleDeleteFeatureFlag deletes a feature flag.
func (h *Handler) HandleDeleteFeatureFlag(c *gin.Context) {
	id, appErr := parseID(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var flag models.FeatureFlag
	if err := h.db.First(&flag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Feature flag"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load feature flag"))
		return
	}

	if err := h.db.Delete(&flag).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to delete feature flag"))
		return
	}

	h.record(c, "delete_feature_flag", "feature_flag", flag.ID, flag, nil)
	c.JSON(http.StatusOK, gin.H{"message": "Feature flag deleted"})
}
