package bootstrap

import (
	"errors"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"nestora-backend/internal/auth"
	"nestora-backend/internal/models"
)

// Run ensures the initial super admin exists so a fresh deployment is not
// locked out of its own gateway. Idempotent; safe to call on every start.
func Run(db *gorm.DB) {
	if db == nil {
		log.Warn("bootstrap: skipping; database not initialized")
		return
	}

	ensureSuperAdmin(db)
}

func ensureSuperAdmin(db *gorm.DB) {
	email := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	if email == "" {
		log.Info("bootstrap: ADMIN_EMAIL not set, skipping super admin seed")
		return
	}

	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.WithError(err).Error("bootstrap: failed to look up admin user")
		return
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		password := os.Getenv("ADMIN_PASSWORD")
		if password == "" {
			log.Warn("bootstrap: ADMIN_PASSWORD not set, cannot create super admin")
			return
		}

		hashed, hashErr := auth.HashPassword(password)
		if hashErr != nil {
			log.WithError(hashErr).Error("bootstrap: failed to hash admin password")
			return
		}

		name := strings.TrimSpace(os.Getenv("ADMIN_NAME"))
		if name == "" {
			name = "System Administrator"
		}

		user = models.User{
			Email:         email,
			Password:      hashed,
			Name:          name,
			EmailVerified: true,
		}
		if createErr := db.Create(&user).Error; createErr != nil {
			log.WithError(createErr).WithField("email", email).Error("bootstrap: failed to create admin user")
			return
		}
		log.WithField("email", email).Info("bootstrap: created super admin user")
	}

	ensureRole(db, user.ID, models.RoleSuperAdmin)
}

func ensureRole(db *gorm.DB, userID uint, role string) {
	var existing models.UserRole
	err := db.Where("user_id = ? AND role = ?", userID, role).First(&existing).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.WithError(err).Error("bootstrap: failed to check role")
		return
	}

	if err := db.Create(&models.UserRole{UserID: userID, Role: role}).Error; err != nil {
		log.WithError(err).WithField("user_id", userID).Error("bootstrap: failed to grant role")
		return
	}
	log.WithFields(log.Fields{"user_id": userID, "role": role}).Info("bootstrap: granted role")
}
