package alerts

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nestora-backend/internal/audit"
	"nestora-backend/internal/auth"
	"nestora-backend/internal/database"
	"nestora-backend/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestRouter(db *gorm.DB, actorID uint) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		auth.SetPrincipal(c, auth.Principal{UserID: actorID, Email: "root@nestora.example", Roles: []string{models.RoleSuperAdmin}})
		c.Next()
	})

	h := NewHandler(db, audit.NewRecorder(db))
	router.GET("/alerts", h.HandleList)
	router.POST("/alerts", h.HandleCreate)
	router.PATCH("/alerts/:id", h.HandleUpdate)
	router.DELETE("/alerts/:id", h.HandleDelete)
	router.GET("/alerts/:id/history", h.HandleHistory)
	router.POST("/alerts/:id/test", h.HandleTestFire)
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedRule(t *testing.T, db *gorm.DB) models.AlertRule {
	t.Helper()
	rule := models.AlertRule{
		Name:                 "High error rate",
		MetricType:           "error_rate",
		Condition:            "gt",
		Threshold:            0.05,
		TimeWindowMinutes:    5,
		NotificationChannels: models.StringArray{"email", "slack"},
		Enabled:              true,
		CreatedBy:            1,
	}
	require.NoError(t, db.Create(&rule).Error)
	return rule
}

func TestRuleCRUD(t *testing.T) {
	t.Run("CreateValidatesCondition", func(t *testing.T) {
		db := openTestDB(t)
		router := newTestRouter(db, 1)

		w := doJSON(router, "POST", "/alerts",
			`{"name": "bad", "metric_type": "error_rate", "condition": "between"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("CreateUpdateDeleteAreEachAudited", func(t *testing.T) {
		db := openTestDB(t)
		router := newTestRouter(db, 1)

		w := doJSON(router, "POST", "/alerts",
			`{"name": "High error rate", "metric_type": "error_rate", "condition": "gt", "threshold": 0.05}`)
		require.Equal(t, http.StatusCreated, w.Code)

		require.Equal(t, http.StatusOK,
			doJSON(router, "PATCH", "/alerts/1", `{"threshold": 0.1}`).Code)
		require.Equal(t, http.StatusOK,
			doJSON(router, "DELETE", "/alerts/1", "").Code)

		for _, action := range []string{"create_alert_rule", "update_alert_rule", "delete_alert_rule"} {
			var count int64
			db.Model(&models.AuditLog{}).Where("action = ?", action).Count(&count)
			assert.Equal(t, int64(1), count, action)
		}

		// Update audit captures the post-mutation threshold.
		var entry models.AuditLog
		require.NoError(t, db.Where("action = ?", "update_alert_rule").First(&entry).Error)
		var after map[string]interface{}
		require.NoError(t, json.Unmarshal(entry.AfterState, &after))
		assert.Equal(t, 0.1, after["threshold"])
	})

	t.Run("UpdateUnknownRuleIs404", func(t *testing.T) {
		db := openTestDB(t)
		router := newTestRouter(db, 1)
		assert.Equal(t, http.StatusNotFound,
			doJSON(router, "PATCH", "/alerts/7", `{"threshold": 1}`).Code)
	})
}

func TestHandleTestFire(t *testing.T) {
	t.Run("SixthCallInWindowIsRateLimited", func(t *testing.T) {
		db := openTestDB(t)
		rule := seedRule(t, db)
		router := newTestRouter(db, 1)
		path := fmt.Sprintf("/alerts/%d/test", rule.ID)

		for i := 1; i <= 5; i++ {
			w := doJSON(router, "POST", path, "")
			require.Equal(t, http.StatusOK, w.Code, "call %d should succeed", i)
		}

		w := doJSON(router, "POST", path, "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		// The rejected call wrote neither history nor audit.
		var history int64
		db.Model(&models.AlertHistoryEntry{}).Count(&history)
		assert.Equal(t, int64(5), history)

		var fires int64
		db.Model(&models.AuditLog{}).Where("action = ?", "test_alert").Count(&fires)
		assert.Equal(t, int64(5), fires)
	})

	t.Run("LimitIsPerActor", func(t *testing.T) {
		db := openTestDB(t)
		rule := seedRule(t, db)
		path := fmt.Sprintf("/alerts/%d/test", rule.ID)

		first := newTestRouter(db, 1)
		for i := 0; i < 5; i++ {
			require.Equal(t, http.StatusOK, doJSON(first, "POST", path, "").Code)
		}
		require.Equal(t, http.StatusTooManyRequests, doJSON(first, "POST", path, "").Code)

		// A different actor still has a fresh window.
		second := newTestRouter(db, 2)
		assert.Equal(t, http.StatusOK, doJSON(second, "POST", path, "").Code)
	})

	t.Run("RecordsThresholdAsMetricValue", func(t *testing.T) {
		db := openTestDB(t)
		rule := seedRule(t, db)
		router := newTestRouter(db, 1)

		w := doJSON(router, "POST", fmt.Sprintf("/alerts/%d/test", rule.ID), "")
		require.Equal(t, http.StatusOK, w.Code)

		var entry models.AlertHistoryEntry
		require.NoError(t, db.First(&entry).Error)
		assert.Equal(t, rule.Threshold, entry.MetricValue)
		assert.Equal(t, "sent", entry.Status)
		assert.Equal(t, rule.Name, entry.RuleName)
	})

	t.Run("HistoryListsTestFires", func(t *testing.T) {
		db := openTestDB(t)
		rule := seedRule(t, db)
		router := newTestRouter(db, 1)

		require.Equal(t, http.StatusOK,
			doJSON(router, "POST", fmt.Sprintf("/alerts/%d/test", rule.ID), "").Code)

		w := doJSON(router, "GET", fmt.Sprintf("/alerts/%d/history", rule.ID), "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(1), resp["total"])
	})
}
