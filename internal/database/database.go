package database

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"nestora-backend/internal/config"
	"nestora-backend/internal/models"
)

// Connect opens the postgres connection described by the DB_* environment
// variables. The handle is passed explicitly into every handler constructor;
// there is no package-level instance.
func Connect() (*gorm.DB, error) {
	host := config.GetEnv("DB_HOST", "localhost")
	port := config.GetEnv("DB_PORT", "5432")
	user := config.GetEnv("DB_USER", "nestora")
	password := os.Getenv("DB_PASSWORD")
	dbname := config.GetEnv("DB_NAME", "nestora")

	sslMode := config.GetEnv("DB_SSLMODE", "require")
	if os.Getenv("DB_SSLMODE") == "" && (os.Getenv("ENVIRONMENT") == "development" || os.Getenv("ENVIRONMENT") == "dev") {
		sslMode = "disable"
		log.Warn("Database SSL disabled for development environment")
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, user, password, dbname, port, sslMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("✅ Database connected successfully")
	return db, nil
}

// Migrate runs auto-migration for all gateway models plus the raw indexes
// gorm tags cannot express.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.UserRole{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.AuditLog{},
		&models.CreditTransaction{},
		&models.OrganizationCreditBalance{},
		&models.ImpersonationSession{},
		&models.GdprDataRequest{},
		&models.AlertRule{},
		&models.AlertHistoryEntry{},
		&models.DiscountCode{},
		&models.FeatureFlag{},
		&models.UsageRate{},
		&models.AIInstructionSet{},
		&models.Listing{},
	); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// One active impersonation session per super admin. The partial index
	// closes the race between two concurrent start calls; the handler maps
	// the resulting duplicate-key error to a 409.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_impersonation_one_active
		 ON impersonation_sessions (super_admin_id) WHERE ended_at IS NULL`,
	).Error; err != nil {
		return fmt.Errorf("create impersonation index: %w", err)
	}

	log.Info("✅ Database migrations completed")
	return nil
}
