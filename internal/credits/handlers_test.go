package credits

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nestora-backend/internal/audit"
	"nestora-backend/internal/auth"
	"nestora-backend/internal/models"
)

func newTestRouter(db *gorm.DB, principal auth.Principal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		auth.SetPrincipal(c, principal)
		c.Next()
	})

	h := NewHandler(db, audit.NewRecorder(db))
	router.POST("/credits/grant", h.HandleGrant)
	router.GET("/organizations/:id/credits", h.HandleGetOrganizationCredits)
	return router
}

func superAdmin() auth.Principal {
	return auth.Principal{UserID: 1, Email: "root@nestora.example", Roles: []string{models.RoleSuperAdmin}}
}

func developer() auth.Principal {
	return auth.Principal{UserID: 2, Email: "dev@nestora.example", Roles: []string{models.RoleDeveloper}}
}

func seedOrg(t *testing.T, db *gorm.DB) models.Organization {
	t.Helper()
	org := models.Organization{Name: "Acme Estates", Slug: "acme-estates", Plan: "starter"}
	require.NoError(t, db.Create(&org).Error)
	return org
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleGrant(t *testing.T) {
	t.Run("GrantThenGrantAgain", func(t *testing.T) {
		db := openTestDB(t)
		org := seedOrg(t, db)
		router := newTestRouter(db, superAdmin())

		w := doJSON(router, "POST", "/credits/grant",
			`{"organization_id": 1, "amount": 100, "reason": "promo"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(100), resp["new_balance"])

		// One audit entry whose after_state reflects the new balance.
		var entries []models.AuditLog
		require.NoError(t, db.Where("action = ?", "grant_credits").Find(&entries).Error)
		require.Len(t, entries, 1)
		var after map[string]interface{}
		require.NoError(t, json.Unmarshal(entries[0].AfterState, &after))
		assert.Equal(t, float64(100), after["new_balance"])

		w = doJSON(router, "POST", "/credits/grant",
			`{"organization_id": 1, "amount": 50}`)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(150), resp["new_balance"])

		var txns []models.CreditTransaction
		require.NoError(t, db.Where("organization_id = ?", org.ID).Find(&txns).Error)
		require.Len(t, txns, 2)
		assert.Equal(t, int64(150), txns[0].Amount+txns[1].Amount)
	})

	t.Run("RejectsNonPositiveAmount", func(t *testing.T) {
		db := openTestDB(t)
		seedOrg(t, db)
		router := newTestRouter(db, superAdmin())

		w := doJSON(router, "POST", "/credits/grant", `{"organization_id": 1, "amount": -5}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		// Nothing was written.
		var count int64
		db.Model(&models.CreditTransaction{}).Count(&count)
		assert.Equal(t, int64(0), count)
	})

	t.Run("UnknownOrganizationIs404", func(t *testing.T) {
		db := openTestDB(t)
		router := newTestRouter(db, superAdmin())

		w := doJSON(router, "POST", "/credits/grant", `{"organization_id": 99, "amount": 10}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("ReplayedGrantSkipsSecondAudit", func(t *testing.T) {
		db := openTestDB(t)
		seedOrg(t, db)
		router := newTestRouter(db, superAdmin())

		body := `{"organization_id": 1, "amount": 100, "idempotency_key": "k-1"}`
		require.Equal(t, http.StatusOK, doJSON(router, "POST", "/credits/grant", body).Code)
		w := doJSON(router, "POST", "/credits/grant", body)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["replayed"])
		assert.Equal(t, float64(100), resp["new_balance"])

		var auditCount int64
		db.Model(&models.AuditLog{}).Where("action = ?", "grant_credits").Count(&auditCount)
		assert.Equal(t, int64(1), auditCount)
	})
}

func TestHandleGetOrganizationCredits(t *testing.T) {
	t.Run("SuperAdminSeesNumbers", func(t *testing.T) {
		db := openTestDB(t)
		seedOrg(t, db)
		router := newTestRouter(db, superAdmin())

		require.Equal(t, http.StatusOK,
			doJSON(router, "POST", "/credits/grant", `{"organization_id": 1, "amount": 75}`).Code)

		w := doJSON(router, "GET", "/organizations/1/credits", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(75), resp["balance"])
		assert.Equal(t, float64(75), resp["total_granted"])
	})

	t.Run("DeveloperGetsRedactionMarkers", func(t *testing.T) {
		db := openTestDB(t)
		seedOrg(t, db)
		require.NoError(t, db.Create(&models.OrganizationCreditBalance{OrganizationID: 1, Balance: 500}).Error)

		router := newTestRouter(db, developer())
		w := doJSON(router, "GET", "/organizations/1/credits", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, field := range []string{"balance", "total_granted", "total_used"} {
			marker, ok := resp[field].(map[string]interface{})
			require.True(t, ok, "%s should be a redaction marker, got %v", field, resp[field])
			assert.Equal(t, true, marker["redacted"])
			assert.NotContains(t, w.Body.String(), `"balance":500`)
		}
	})

	t.Run("UnknownOrganizationIs404", func(t *testing.T) {
		db := openTestDB(t)
		router := newTestRouter(db, superAdmin())
		w := doJSON(router, "GET", "/organizations/9/credits", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
