package utils

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"nestora-backend/internal/errors"
)

// SendError renders an AppError as the standard {error, message, details}
// JSON body. Internal store error text never reaches the caller; 5xx causes
// are forwarded to Sentry instead.
func SendError(c *gin.Context, appErr *errors.AppError) {
	if appErr == nil {
		appErr = &errors.AppError{Code: "UNKNOWN_ERROR", Message: "An unexpected error occurred"}
	}

	status := appErr.HTTPStatus()
	c.JSON(status, gin.H{
		"error":   appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	})

	if status >= http.StatusInternalServerError {
		extras := map[string]interface{}{
			"status_code": status,
			"error_code":  appErr.Code,
			"details":     appErr.Details,
		}
		if c.FullPath() != "" {
			extras["route"] = c.FullPath()
		}
		log.WithError(appErr.Err).WithField("route", c.FullPath()).Error(appErr.Message)
		CaptureSentryError(c, appErr.Err, "SendError:"+appErr.Code, extras)
	}
}

// GetClientIP extracts the client IP from the request
func GetClientIP(c *gin.Context) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	return c.ClientIP()
}
