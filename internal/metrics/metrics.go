package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuditWriteFailures counts audit trail writes that failed after the parent
// mutation already committed. The trail is best-effort by design; this counter
// is the operational signal that the tradeoff is being exercised.
var AuditWriteFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nestora_audit_write_failures_total",
		Help: "Audit log writes that failed after the underlying mutation committed.",
	},
	[]string{"action"},
)

// RequestsTotal counts gateway requests by route and status class.
var RequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nestora_admin_requests_total",
		Help: "Admin gateway requests by route, method and status.",
	},
	[]string{"route", "method", "status"},
)

// Handler exposes the prometheus registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RequestCounter records one RequestsTotal increment per completed request,
// labeled by the matched route pattern rather than the raw path.
func RequestCounter() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
