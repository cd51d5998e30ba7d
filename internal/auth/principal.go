package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apperrors "nestora-backend/internal/errors"
	"nestora-backend/internal/models"
)

const principalKey = "principal"

// Principal is the authenticated caller plus its resolved role set. It is
// derived per request and never stored by the gateway.
type Principal struct {
	UserID uint     `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the principal may invoke mutating, financial
// and destructive operations.
func (p Principal) IsSuperAdmin() bool {
	return p.HasRole(models.RoleSuperAdmin)
}

// IsStaff reports whether the principal may invoke read-mostly operations.
func (p Principal) IsStaff() bool {
	return p.HasRole(models.RoleSuperAdmin) || p.HasRole(models.RoleDeveloper)
}

// Resolver turns a bearer credential into a verified Principal.
type Resolver struct {
	db    *gorm.DB
	cache *RoleCache
}

// NewResolver builds a Resolver. cache may be nil, in which case every
// request hits the store for roles.
func NewResolver(db *gorm.DB, cache *RoleCache) *Resolver {
	return &Resolver{db: db, cache: cache}
}

// Resolve validates the credential and loads the caller's role set.
// Credential failures are reported before any role lookup; a role lookup
// storage error is a dependency failure, while an empty role set is a valid
// principal that the gate will reject.
func (r *Resolver) Resolve(c *gin.Context, tokenString string) (*Principal, *apperrors.AppError) {
	if tokenString == "" {
		return nil, apperrors.Unauthenticated("No authorization token provided")
	}

	claims, err := ParseToken(tokenString)
	if err != nil {
		return nil, apperrors.Unauthenticated("Invalid or expired token")
	}

	var user models.User
	if err := r.db.First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Unauthenticated("Unknown principal")
		}
		return nil, apperrors.Dependency(err, "Failed to load principal")
	}
	if user.Suspended {
		return nil, apperrors.Unauthenticated("Account is suspended")
	}

	roles, appErr := r.lookupRoles(c, user.ID)
	if appErr != nil {
		return nil, appErr
	}

	return &Principal{UserID: user.ID, Email: user.Email, Roles: roles}, nil
}

func (r *Resolver) lookupRoles(c *gin.Context, userID uint) ([]string, *apperrors.AppError) {
	if r.cache != nil {
		if roles, ok := r.cache.Get(c.Request.Context(), userID); ok {
			return roles, nil
		}
	}

	var rows []models.UserRole
	if err := r.db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, apperrors.Dependency(err, "Failed to load roles")
	}

	roles := make([]string, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, row.Role)
	}

	if r.cache != nil {
		r.cache.Set(c.Request.Context(), userID, roles)
	}
	return roles, nil
}

// SetPrincipal stores the resolved principal on the request context.
func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}

// PrincipalFrom returns the principal stored by the auth middleware.
func PrincipalFrom(c *gin.Context) Principal {
	if v, exists := c.Get(principalKey); exists {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Principal{}
}
