package middleware

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/sirupsen/logrus"
)

// SecureCORSConfig returns the CORS configuration for the admin console
// frontends. Origins come from CORS_ORIGINS; a wildcard origin is fatal in
// production.
func SecureCORSConfig() cors.Config {
	config := cors.DefaultConfig()

	var allowedOrigins []string
	if raw := os.Getenv("CORS_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			origin = strings.TrimSpace(origin)
			if origin == "" {
				continue
			}
			if err := validateCORSOrigin(origin); err != nil {
				logrus.WithField("origin", origin).WithError(err).Warn("Ignoring invalid CORS origin")
				continue
			}
			allowedOrigins = append(allowedOrigins, origin)
		}
	}

	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "development" || env == "dev" {
		for _, origin := range []string{"http://localhost:3000", "http://localhost:5173"} {
			if !containsString(allowedOrigins, origin) {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}

	if len(allowedOrigins) == 0 {
		logrus.Warn("No CORS origins configured, CORS will be restrictive")
		allowedOrigins = []string{"https://admin.nestora.example"}
	}

	if containsString(allowedOrigins, "*") && (env == "production" || env == "prod") {
		logrus.Fatal("Wildcard CORS origin (*) is not allowed in production")
	}

	config.AllowOrigins = allowedOrigins
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With",
	}
	config.ExposeHeaders = []string{"Content-Length", "Content-Type"}
	config.AllowCredentials = true
	config.MaxAge = 12 * time.Hour

	return config
}

func validateCORSOrigin(origin string) error {
	if origin == "*" {
		return nil
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme: %s (must be http or https)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host in origin")
	}
	return nil
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
