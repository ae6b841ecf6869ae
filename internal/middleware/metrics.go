package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// noRoutePath labels requests that matched no route (404/405)
const noRoutePath = "<no-route>"

// MetricsMiddleware records http_requests_total{method, path, status} and
// http_request_duration_seconds{method, path} for every request.
//
// path is the matched route template from c.FullPath() (e.g. /api/v1/users/:id), never
// the raw URL, so user IDs in paths do not inflate label cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoutePath
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
