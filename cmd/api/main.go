package main

import (
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"nestora-backend/internal/alerts"
	"nestora-backend/internal/audit"
	"nestora-backend/internal/auth"
	"nestora-backend/internal/billing"
	"nestora-backend/internal/bootstrap"
	"nestora-backend/internal/config"
	"nestora-backend/internal/credits"
	"nestora-backend/internal/database"
	"nestora-backend/internal/gdpr"
	"nestora-backend/internal/health"
	"nestora-backend/internal/impersonation"
	"nestora-backend/internal/metrics"
	"nestora-backend/internal/middleware"
	"nestora-backend/internal/organizations"
	"nestora-backend/internal/settings"
	"nestora-backend/internal/users"
)

func main() {
	log.Info("Starting Nestora admin gateway")

	// Initialize Sentry before other subsystems so we capture initialization errors
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		opts := sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
			Release:     os.Getenv("SENTRY_RELEASE"),
		}
		if host, _ := os.Hostname(); host != "" {
			opts.ServerName = host
		}
		if err := sentry.Init(opts); err != nil {
			log.WithError(err).Warn("Sentry initialization failed")
		} else {
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("service", "nestora-admin-gateway")
			})
			defer sentry.Flush(2 * time.Second)
		}
	}

	db, err := database.Connect()
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}

	bootstrap.Run(db)
	auth.InitJWT()
	billing.Init()

	roleCache := auth.NewRoleCacheFromEnv()
	resolver := auth.NewResolver(db, roleCache)
	trail := audit.NewRecorder(db)

	h := handlers{
		audit:         audit.NewHandler(db),
		alerts:        alerts.NewHandler(db, trail),
		credits:       credits.NewHandler(db, trail),
		gdpr:          gdpr.NewHandler(db, trail),
		impersonation: impersonation.NewHandler(db, trail),
		organizations: organizations.NewHandler(db, trail),
		settings:      settings.NewHandler(db, trail),
		users:         users.NewHandler(db, trail, roleCache),
	}
	authHandler := auth.NewHandler(db)
	healthHandler := health.NewHandler(db)

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	}))
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS must run first so OPTIONS preflights short-circuit cleanly.
	router.Use(cors.New(middleware.SecureCORSConfig()))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(middleware.MaxRequestSize()))
	router.Use(middleware.GeneralRateLimit())
	router.Use(metrics.RequestCounter())

	router.GET("/health", healthHandler.HandleHealthCheck)
	router.GET("/ready", healthHandler.HandleSystemReady)
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api/v1/admin")
	api.POST("/auth/login", middleware.LoginRateLimit(), authHandler.HandleLogin)

	protected := api.Group("")
	protected.Use(auth.Middleware(resolver))
	registerRoutes(protected, adminRoutes(h))

	port := config.GetEnv("PORT", "8080")
	log.WithField("port", port).Info("Admin gateway listening")
	if err := router.Run(":" + port); err != nil {
		log.WithError(err).Fatal("Server exited")
	}
}
