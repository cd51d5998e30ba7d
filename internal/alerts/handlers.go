package alerts

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

// testFireLimit caps manual test fires per actor per rolling minute. The
// limiter counts the actor's recent test_alert audit rows rather than keeping
// a separate counter store, so it is approximate under extreme concurrency.
const (
	testFireLimit  = 5
	testFireWindow = time.Minute
)

var validConditions = map[string]bool{"gt": true, "gte": true, "lt": true, "lte": true, "eq": true}

// Handler serves alert rule CRUD plus the manual test-fire operation.
type Handler struct {
	db    *gorm.DB
	trail *audit.Recorder
}

// NewHandler builds an alerts Handler.
func NewHandler(db *gorm.DB, trail *audit.Recorder) *Handler {
	return &Handler{db: db, trail: trail}
}

// HandleList returns all alert rules.
func (h *Handler) HandleList(c *gin.Context) {
	var rules []models.AlertRule
	if err := h.db.Order("id ASC").Find(&rules).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch alert rules"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "total": len(rules)})
}

type ruleRequest struct {
	Name                 string   `json:"name" binding:"required"`
	MetricType           string   `json:"metric_type" binding:"required"`
	Condition            string   `json:"condition" binding:"required"`
	Threshold            float64  `json:"threshold"`
	TimeWindowMinutes    int      `json:"time_window_minutes"`
	NotificationChannels []string `json:"notification_channels"`
	Enabled              *bool    `json:"enabled"`
}

// HandleCreate creates an alert rule.
func (h *Handler) HandleCreate(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("name/metric_type/condition", "name, metric_type and condition are required"))
		return
	}
	if !validConditions[req.Condition] {
		utils.SendError(c, apperrors.Validation("condition", "condition must be one of gt, gte, lt, lte, eq"))
		return
	}

	principal := auth.PrincipalFrom(c)
	rule := models.AlertRule{
		Name:                 req.Name,
		MetricType:           req.MetricType,
		Condition:            req.Condition,
		Threshold:            req.Threshold,
		TimeWindowMinutes:    req.TimeWindowMinutes,
		NotificationChannels: models.StringArray(req.NotificationChannels),
		Enabled:              true,
		CreatedBy:            principal.UserID,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if rule.TimeWindowMinutes <= 0 {
		rule.TimeWindowMinutes = 5
	}

	if err := h.db.Create(&rule).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to create alert rule"))
		return
	}

	h.trail.Record(c, principal.UserID, "create_alert_rule", "alert_rule",
		strconv.FormatUint(uint64(rule.ID), 10), nil, rule, nil)

	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

// HandleUpdate partially updates an alert rule.
func (h *Handler) HandleUpdate(c *gin.Context) {
	rule, appErr := h.loadRule(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var req struct {
		Name                 *string  `json:"name"`
		MetricType           *string  `json:"metric_type"`
		Condition            *string  `json:"condition"`
		Threshold            *float64 `json:"threshold"`
		TimeWindowMinutes    *int     `json:"time_window_minutes"`
		NotificationChannels []string `json:"notification_channels"`
		Enabled              *bool    `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, apperrors.Validation("body", "Invalid request body"))
		return
	}
	if req.Condition != nil && !validConditions[*req.Condition] {
		utils.SendError(c, apperrors.Validation("condition", "condition must be one of gt, gte, lt, lte, eq"))
		return
	}

	before := *rule
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.MetricType != nil {
		rule.MetricType = *req.MetricType
	}
	if req.Condition != nil {
		rule.Condition = *req.Condition
	}
	if req.Threshold != nil {
		rule.Threshold = *req.Threshold
	}
	if req.TimeWindowMinutes != nil {
		rule.TimeWindowMinutes = *req.TimeWindowMinutes
	}
	if req.NotificationChannels != nil {
		rule.NotificationChannels = models.StringArray(req.NotificationChannels)
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := h.db.Save(rule).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to update alert rule"))
		return
	}

	principal := auth.PrincipalFrom(c)
	h.trail.Record(c, principal.UserID, "update_alert_rule", "alert_rule",
		strconv.FormatUint(uint64(rule.ID), 10), before, rule, nil)

	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// HandleDelete deletes an alert rule.
func (h *Handler) HandleDelete(c *gin.Context) {
	rule, appErr := h.loadRule(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	if err := h.db.Delete(rule).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to delete alert rule"))
		return
	}

	principal := auth.PrincipalFrom(c)
	h.trail.Record(c, principal.UserID, "delete_alert_rule", "alert_rule",
		strconv.FormatUint(uint64(rule.ID), 10), rule, nil, nil)

	c.JSON(http.StatusOK, gin.H{"message": "Alert rule deleted"})
}

// HandleHistory returns recent firings for a rule, test fires included.
func (h *Handler) HandleHistory(c *gin.Context) {
	rule, appErr := h.loadRule(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	var history []models.AlertHistoryEntry
	if err := h.db.Where("alert_rule_id = ?", rule.ID).
		Order("triggered_at DESC, id DESC").Limit(100).
		Find(&history).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to fetch alert history"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"rule_id": rule.ID, "history": history, "total": len(history)})
}

// HandleTestFire fires a rule manually. The recorded metric value is the
// rule's own threshold so test entries are visually distinguishable from real
// triggers.
func (h *Handler) HandleTestFire(c *gin.Context) {
	rule, appErr := h.loadRule(c)
	if appErr != nil {
		utils.SendError(c, appErr)
		return
	}

	principal := auth.PrincipalFrom(c)
	count, err := h.trail.CountRecent(principal.UserID, "test_alert", testFireWindow)
	if err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to check test-fire rate limit"))
		return
	}
	if count >= testFireLimit {
		utils.SendError(c, apperrors.RateLimited("Test fire limit reached, try again in a minute"))
		return
	}

	entry := models.AlertHistoryEntry{
		AlertRuleID:          rule.ID,
		RuleName:             rule.Name,
		MetricValue:          rule.Threshold,
		NotificationChannels: rule.NotificationChannels,
		Status:               "sent",
		TriggeredAt:          time.Now(),
	}
	if err := h.db.Create(&entry).Error; err != nil {
		utils.SendError(c, apperrors.Dependency(err, "Failed to record test fire"))
		return
	}

	h.trail.Record(c, principal.UserID, "test_alert", "alert_rule",
		strconv.FormatUint(uint64(rule.ID), 10), nil,
		gin.H{"history_id": entry.ID, "metric_value": entry.MetricValue}, nil)

	c.JSON(http.StatusOK, gin.H{"fired": true, "history": entry})
}

func (h *Handler) loadRule(c *gin.Context) (*models.AlertRule, *apperrors.AppError) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return nil, apperrors.Validation("id", "Invalid alert rule id")
	}

	var rule models.AlertRule
	if err := h.db.First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Alert rule")
		}
		return nil, apperrors.Dependency(err, "Failed to load alert rule")
	}
	return &rule, nil
}
