package gdpr

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

func newTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		auth.SetPrincipal(c, auth.Principal{UserID: 1, Email: "root@nestora.example", Roles: []string{models.RoleSuperAdmin}})
		c.Next()
	})

	h := NewHandler(db, audit.NewRecorder(db))
	router.GET("/gdpr/requests", h.HandleList)
	router.POST("/gdpr/requests", h.HandleCreate)
	router.PATCH("/gdpr/requests/:id", h.HandleProcess)
	router.POST("/gdpr/requests/:id/export", h.HandleExport)
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleCreate(t *testing.T) {
	t.Run("CreatesPendingRequest", func(t *testing.T) {
		db := openTestDB(t)
		router := newTestRouter(db)

		w := doJSON(router, "POST", "/gdpr/requests",
			`{"request_type": "data_export", "target_type": "user", "target_email": "subject@example.com"}`)
		require.Equal(t, http.StatusCreated, w.Code)

		var request models.GdprDataRequest
		require.NoError(t, db.First(&request).Error)
		assert.Equal(t, models.GdprStatusPending, request.Status)
		assert.Equal(t, uint(1), request.RequestedBy)

		var count int64
		db.Model(&models.AuditLog{}).Where("action = ?", "create_gdpr_request").Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("RejectsInvalidEnum", func(t *testing.T) {
		db := openTestDB(t)
		router := newTestRouter(db)

		w := doJSON(router, "POST", "/gdpr/requests",
			`{"request_type": "purge_everything", "target_type": "user", "target_email": "x@example.com"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("RequiresSomeTarget", func(t *testing.T) {
		db := openTestDB(t)
		router := newTestRouter(db)

		w := doJSON(router, "POST", "/gdpr/requests",
			`{"request_type": "data_export", "target_type": "user"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleProcess(t *testing.T) {
	seedPending := func(t *testing.T, db *gorm.DB) models.GdprDataRequest {
		t.Helper()
		request := models.GdprDataRequest{
			RequestType: models.GdprTypeDataDeletion,
			TargetType:  models.GdprTargetUser,
			TargetEmail: "subject@example.com",
			Status:      models.GdprStatusPending,
			RequestedBy: 1,
		}
		require.NoError(t, db.Create(&request).Error)
		return request
	}

	t.Run("CompleteThenRetryConflicts", func(t *testing.T) {
		db := openTestDB(t)
		request := seedPending(t, db)
		router := newTestRouter(db)
		path := fmt.Sprintf("/gdpr/requests/%d", request.ID)

		w := doJSON(router, "PATCH", path, `{"action": "complete"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var updated models.GdprDataRequest
		require.NoError(t, db.First(&updated, request.ID).Error)
		assert.Equal(t, models.GdprStatusCompleted, updated.Status)
		assert.NotNil(t, updated.CompletedAt)

		// Terminal states cannot transition again.
		assert.Equal(t, http.StatusConflict, doJSON(router, "PATCH", path, `{"action": "complete"}`).Code)
		assert.Equal(t, http.StatusConflict, doJSON(router, "PATCH", path, `{"action": "reject"}`).Code)
	})

	t.Run("RejectStoresReason", func(t *testing.T) {
		db := openTestDB(t)
		request := seedPending(t, db)
		router := newTestRouter(db)

		w := doJSON(router, "PATCH", fmt.Sprintf("/gdpr/requests/%d", request.ID),
			`{"action": "reject", "reason": "duplicate request"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var updated models.GdprDataRequest
		require.NoError(t, db.First(&updated, request.ID).Error)
		assert.Equal(t, models.GdprStatusRejected, updated.Status)
		assert.Equal(t, "duplicate request", updated.RejectionReason)
	})

	t.Run("UnknownActionIs400", func(t *testing.T) {
		db := openTestDB(t)
		request := seedPending(t, db)
		router := newTestRouter(db)

		w := doJSON(router, "PATCH", fmt.Sprintf("/gdpr/requests/%d", request.ID), `{"action": "archive"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("ProcessIsAudited", func(t *testing.T) {
		db := openTestDB(t)
		request := seedPending(t, db)
		router := newTestRouter(db)

		require.Equal(t, http.StatusOK,
			doJSON(router, "PATCH", fmt.Sprintf("/gdpr/requests/%d", request.ID), `{"action": "complete"}`).Code)

		var entry models.AuditLog
		require.NoError(t, db.Where("action = ?", "process_gdpr_request").First(&entry).Error)
		var after map[string]interface{}
		require.NoError(t, json.Unmarshal(entry.AfterState, &after))
		assert.Equal(t, models.GdprStatusCompleted, after["status"])
	})
}

func TestHandleExport(t *testing.T) {
	t.Run("UserExportIsScopedToTarget", func(t *testing.T) {
		db := openTestDB(t)

		target := models.User{Email: "subject@example.com", Name: "Subject"}
		other := models.User{Email: "other@example.com", Name: "Someone Else"}
		require.NoError(t, db.Create(&target).Error)
		require.NoError(t, db.Create(&other).Error)

		org := models.Organization{Name: "Acme", Slug: "acme"}
		require.NoError(t, db.Create(&org).Error)
		require.NoError(t, db.Create(&models.OrganizationMember{OrganizationID: org.ID, UserID: target.ID}).Error)
		require.NoError(t, db.Create(&models.OrganizationMember{OrganizationID: org.ID, UserID: other.ID}).Error)

		request := models.GdprDataRequest{
			RequestType: models.GdprTypeDataExport,
			TargetType:  models.GdprTargetUser,
			TargetID:    &target.ID,
			Status:      models.GdprStatusPending,
			RequestedBy: 1,
		}
		require.NoError(t, db.Create(&request).Error)

		router := newTestRouter(db)
		w := doJSON(router, "POST", fmt.Sprintf("/gdpr/requests/%d/export", request.ID), "")
		require.Equal(t, http.StatusOK, w.Code)

		assert.Contains(t, w.Body.String(), "subject@example.com")
		assert.NotContains(t, w.Body.String(), "other@example.com")

		var count int64
		db.Model(&models.AuditLog{}).Where("action = ?", "generate_gdpr_export").Count(&count)
		assert.Equal(t, int64(1), count)

		// Export does not advance the workflow.
		var after models.GdprDataRequest
		require.NoError(t, db.First(&after, request.ID).Error)
		assert.Equal(t, models.GdprStatusPending, after.Status)
	})

	t.Run("DeletionRequestsCannotExport", func(t *testing.T) {
		db := openTestDB(t)
		request := models.GdprDataRequest{
			RequestType: models.GdprTypeDataDeletion,
			TargetType:  models.GdprTargetUser,
			TargetEmail: "subject@example.com",
			Status:      models.GdprStatusPending,
			RequestedBy: 1,
		}
		require.NoError(t, db.Create(&request).Error)

		router := newTestRouter(db)
		w := doJSON(router, "POST", fmt.Sprintf("/gdpr/requests/%d/export", request.ID), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("OrganizationExportIncludesLedgerAndListings", func(t *testing.T) {
		db := openTestDB(t)

		org := models.Organization{Name: "Acme", Slug: "acme"}
		otherOrg := models.Organization{Name: "Rival", Slug: "rival"}
		require.NoError(t, db.Create(&org).Error)
		require.NoError(t, db.Create(&otherOrg).Error)

		require.NoError(t, db.Create(&models.CreditTransaction{OrganizationID: org.ID, Amount: 100, Type: "grant"}).Error)
		require.NoError(t, db.Create(&models.Listing{OrganizationID: org.ID, Title: "Seaside flat"}).Error)
		require.NoError(t, db.Create(&models.Listing{OrganizationID: otherOrg.ID, Title: "Rival penthouse"}).Error)

		request := models.GdprDataRequest{
			RequestType: models.GdprTypeAccessRequest,
			TargetType:  models.GdprTargetOrganization,
			TargetID:    &org.ID,
			Status:      models.GdprStatusPending,
			RequestedBy: 1,
		}
		require.NoError(t, db.Create(&request).Error)

		router := newTestRouter(db)
		w := doJSON(router, "POST", fmt.Sprintf("/gdpr/requests/%d/export", request.ID), "")
		require.Equal(t, http.StatusOK, w.Code)

		assert.Contains(t, w.Body.String(), "Seaside flat")
		assert.NotContains(t, w.Body.String(), "Rival penthouse")
	})
}
