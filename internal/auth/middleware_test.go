package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

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

func seedUserWithRoles(t *testing.T, db *gorm.DB, email string, roles ...string) models.User {
	t.Helper()
	user := models.User{Email: email, Name: "Test User"}
	require.NoError(t, db.Create(&user).Error)
	for _, role := range roles {
		require.NoError(t, db.Create(&models.UserRole{UserID: user.ID, Role: role}).Error)
	}
	return user
}

func newGatedRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	protected := router.Group("")
	protected.Use(Middleware(NewResolver(db, nil)))
	protected.GET("/staff", RequireStaff(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"principal": PrincipalFrom(c)})
	})
	protected.GET("/super", RequireSuperAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doAuthed(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	SetTestSecret("middleware-test-secret")

	t.Run("NoTokenIs401", func(t *testing.T) {
		db := openTestDB(t)
		router := newGatedRouter(db)
		assert.Equal(t, http.StatusUnauthorized, doAuthed(router, "/staff", "").Code)
	})

	t.Run("GarbageTokenIs401", func(t *testing.T) {
		db := openTestDB(t)
		router := newGatedRouter(db)
		assert.Equal(t, http.StatusUnauthorized, doAuthed(router, "/staff", "not-a-jwt").Code)
	})

	t.Run("ExpiredTokenIs401", func(t *testing.T) {
		db := openTestDB(t)
		user := seedUserWithRoles(t, db, "root@x.com", models.RoleSuperAdmin)
		token, _, err := GenerateToken(user, -time.Minute)
		require.NoError(t, err)

		router := newGatedRouter(db)
		assert.Equal(t, http.StatusUnauthorized, doAuthed(router, "/staff", token).Code)
	})

	t.Run("UnknownPrincipalIs401", func(t *testing.T) {
		db := openTestDB(t)
		token, _, err := GenerateToken(models.User{ID: 99, Email: "ghost@x.com"}, time.Hour)
		require.NoError(t, err)

		router := newGatedRouter(db)
		assert.Equal(t, http.StatusUnauthorized, doAuthed(router, "/staff", token).Code)
	})

	t.Run("SuspendedUserIs401", func(t *testing.T) {
		db := openTestDB(t)
		user := seedUserWithRoles(t, db, "root@x.com", models.RoleSuperAdmin)
		require.NoError(t, db.Model(&user).Update("suspended", true).Error)

		token, _, err := GenerateToken(user, time.Hour)
		require.NoError(t, err)

		router := newGatedRouter(db)
		assert.Equal(t, http.StatusUnauthorized, doAuthed(router, "/staff", token).Code)
	})

	t.Run("NonStaffIs403AtTheGate", func(t *testing.T) {
		db := openTestDB(t)
		user := seedUserWithRoles(t, db, "member@x.com", models.RoleUser)
		token, _, err := GenerateToken(user, time.Hour)
		require.NoError(t, err)

		router := newGatedRouter(db)
		assert.Equal(t, http.StatusForbidden, doAuthed(router, "/staff", token).Code)
	})

	t.Run("DeveloperPassesStaffButNotSuperAdmin", func(t *testing.T) {
		db := openTestDB(t)
		user := seedUserWithRoles(t, db, "dev@x.com", models.RoleDeveloper)
		token, _, err := GenerateToken(user, time.Hour)
		require.NoError(t, err)

		router := newGatedRouter(db)
		assert.Equal(t, http.StatusOK, doAuthed(router, "/staff", token).Code)
		assert.Equal(t, http.StatusForbidden, doAuthed(router, "/super", token).Code)
	})

	t.Run("SuperAdminPassesBothTiers", func(t *testing.T) {
		db := openTestDB(t)
		user := seedUserWithRoles(t, db, "root@x.com", models.RoleSuperAdmin)
		token, _, err := GenerateToken(user, time.Hour)
		require.NoError(t, err)

		router := newGatedRouter(db)
		assert.Equal(t, http.StatusOK, doAuthed(router, "/staff", token).Code)
		assert.Equal(t, http.StatusOK, doAuthed(router, "/super", token).Code)
	})
}

func TestPrincipal(t *testing.T) {
	t.Run("RoleChecks", func(t *testing.T) {
		super := Principal{Roles: []string{models.RoleSuperAdmin}}
		dev := Principal{Roles: []string{models.RoleDeveloper}}
		none := Principal{}

		assert.True(t, super.IsSuperAdmin())
		assert.True(t, super.IsStaff())
		assert.False(t, dev.IsSuperAdmin())
		assert.True(t, dev.IsStaff())
		assert.False(t, none.IsStaff())
	})

	t.Run("RedactAmount", func(t *testing.T) {
		super := Principal{Roles: []string{models.RoleSuperAdmin}}
		dev := Principal{Roles: []string{models.RoleDeveloper}}

		assert.Equal(t, int64(500), RedactAmount(super, 500))

		marker, ok := RedactAmount(dev, 500).(RedactedField)
		require.True(t, ok)
		assert.True(t, marker.Redacted)
	})
}
