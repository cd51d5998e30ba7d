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

// HandleListUsageRates returns all usage rates.
func (h *Handler) HandleListUsageRates(c *gin.Context) {
	var rates []models.UsageRate
	if err := h.db.Order("metric_type ASC").Find(&rates).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch usage rates"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage_rates": rates, "total": len(rates)})
}

type usageRateRequest struct {
	MetricType     string `json:"metric_type" binding:"required"`
	CreditsPerUnit int64  `json:"credits_per_unit" binding:"required"`
	Unit           string `json:"unit"`
	Active         *bool  `json:"active"`
}

// HandleCreateUsageRate creates a usage rate.
func (h *Handler) HandleCreateUsageRate(c *gin.Context) {
	var req usageRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("metric_type/credits_per_unit", "metric_type and credits_per_unit are required"))
		return
	}
	if req.CreditsPerUnit <= 0 {
		utils.SendError(c, apperrors.Validation("credits_per_unit", "credits_per_unit must be positive"))
		return
	}

	rate := models.UsageRate{
		MetricType:     req.MetricType,
		CreditsPerUnit: req.CreditsPerUnit,
		Unit:           req.Unit,
		Active:         true,
	}
	if req.Active != nil {
		rate.Active = *req.Active
	}

	if err := h.db.Create(&rate).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.SendError(c, apperrors.Conflict("Usage rate already exists for this metric"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to create usage rate"))
		return
	}

	h.record(c, "create_usage_rate", "usage_rate", rate.ID, nil, rate)
	c.JSON(http.StatusCreated, gin.H{"usage_rate": rate})
}

// HandleUpdateUsageRate partially updates a usage rate.
func (h *Handler) HandleUpdateUsageRate(c *gin.Context) {
	id, appErr := parseID(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var rate models.UsageRate
	if err := h.db.First(&rate, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Usage rate"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load usage rate"))
		return
	}

	var req struct {
		CreditsPerUnit *int64  `json:"credits_per_unit"`
		Unit           *string `json:"unit"`
		Active         *bool   `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("body", "Invalid request body"))
		return
	}
	if req.CreditsPerUnit != nil && *req.CreditsPerUnit <= 0 {
		utils.SendError(c, apperrors.Validation("credits_per_unit", "credits_per_unit must be positive"))
		return
	}

	before := rate
	if req.CreditsPerUnit != nil {
		rate.CreditsPerUnit = *req.CreditsPerUnit
	}
	if req.Unit != nil {
		rate.Unit = *req.Unit
	}
	if req.Active != nil {
		rate.Active = *req.Active
	}

	if err := h.db.Save(&rate).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to update usage rate"))
		return
	}

	h.record(c, "update_usage_rate", "usage_rate", rate.ID, before, rate)
	c.JSON(http.StatusOK, gin.H{"usage_rate": rate})
}

// HandleDeleteUsageRate deletes a usage rate.
func (h *Handler) HandleDeleteUsageRate(c *gin.Context) {
	id, appErr := parseID(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var rate models.UsageRate
	if err := h.db.First(&rate, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Usage rate"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load usage rate"))
		return
	}

	if err := h.db.Delete(&rate).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to delete usage rate"))
		return
	}

	h.record(c, "delete_usage_rate", "usage_rate", rate.ID, rate, nil)
	c.JSON(http.StatusOK, gin.H{"message": "Usage rate deleted"})
}
