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

// HandleListAIInstructionSets returns all AI instruction sets.
func (h *Handler) HandleListAIInstructionSets(c *gin.Context) {
	var sets []models.AIInstructionSet
	if err := h.db.Order("name ASC").Find(&sets).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch AI instruction sets"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"instruction_sets": sets, "total": len(sets)})
}

type aiInstructionRequest struct {
	Name         string `json:"name" binding:"required"`
	Instructions string `json:"instructions" binding:"required"`
	Model        string `json:"model"`
	Active       *bool  `json:"active"`
}

// HandleCreateAIInstructionSet creates an AI instruction set.
func (h *Handler) HandleCreateAIInstructionSet(c *gin.Context) {
	var req aiInstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("name/instructions", "name and instructions are required"))
		return
	}

	set := models.AIInstructionSet{
		Name:         req.Name,
		Instructions: req.Instructions,
		Model:        req.Model,
		Active:       true,
	}
	if req.Active != nil {
		set.Active = *req.Active
	}

	if err := h.db.Create(&set).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.SendError(c, apperrors.Conflict("Instruction set already exists"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to create instruction set"))
		return
	}

	h.record(c, "create_ai_instruction_set", "ai_instruction_set", set.ID, nil, set)
	c.JSON(http.StatusCreated, gin.H{"instruction_set": set})
}

// HandleUpdateAIInstructionSet partially updates an AI instruction set.
func (h *Handler) HandleUpdateAIInstructionSet(c *gin.Context) {
	id, appErr := parseID(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var set models.AIInstructionSet
	if err := h.db.First(&set, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Instruction set"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load instruction set"))
		return
	}

	var req struct {
		Instructions *string `json:"instructions"`
		Model        *string `json:"model"`
		Active       *bool   `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("body", "Invalid request body"))
		return
	}

	before := set
	if req.Instructions != nil {
		set.Instructions = *req.Instructions
	}
	if req.Model != nil {
		set.Model = *req.Model
	}
	if req.Active != nil {
		set.Active = *req.Active
	}

	if err := h.db.Save(&set).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to update instruction set"))
		return
	}

	h.record(c, "update_ai_instruction_set", "ai_instruction_set", set.ID, before, set)
	c.JSON(http.StatusOK, gin.H{"instruction_set": set})
}

// HandleDeleteAIInstructionSet deletes an AI instruction set.
func (h *Handler) HandleDeleteAIInstructionSet(c *gin.Context) {
	id, appErr := parseID(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var set models.AIInstructionSet
	if err := h.db.First(&set, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendError(c, apperrors.NotFound("Instruction set"))
			return
		}
		utils.SendError(c, apperrors.Dependency(err, "Failed to load instruction set"))
		return
	}

	if err := h.db.Delete(&set).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to delete instruction set"))
		return
	}

	h.record(c, "delete_ai_instruction_set", "ai_instruction_set", set.ID, set, nil)
	c.JSON(http.StatusOK, gin.H{"message": "Instruction set deleted"})
}
