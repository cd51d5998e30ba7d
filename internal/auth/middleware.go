package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "nestora-backend/internal/errors"
	"nestora-backend/internal/models"
	"nestora-backend/pkg/utils"
)

// Middleware resolves the bearer credential into a Principal and rejects the
// request before any handler touches the store. A principal holding neither
// super_admin nor developer is turned away here.
func Middleware(resolver *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}

		var tokenString string
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		principal, appErr := resolver.Resolve(c, tokenString)
		if appErr != nil {
			utils.SendError(c, appErr)
			c.Abort()
			return
		}

		if !principal.IsStaff() {
			utils.SendError(c, apperrors.Unauthorized(models.RoleSuperAdmin+" or "+models.RoleDeveloper))
			c.Abort()
			return
		}

		SetPrincipal(c, *principal)
		c.Next()
	}
}

// RequireSuperAdmin gates mutating, financial and destructive operations.
func RequireSuperAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !PrincipalFrom(c).IsSuperAdmin() {
			utils.SendError(c, apperrors.Unauthorized(models.RoleSuperAdmin))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStaff gates read-mostly operations. The auth middleware already
// enforces staff membership; this exists so the route table states a tier for
// every operation.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !PrincipalFrom(c).IsStaff() {
			utils.SendError(c, apperrors.Unauthorized(models.RoleSuperAdmin+" or "+models.RoleDeveloper))
			c.Abort()
			return
		}
		c.Next()
	}
}
