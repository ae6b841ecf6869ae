package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request identifier
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request ID string
	RequestIDKey = "request_id"

	// maxRequestIDLength bounds caller-supplied IDs so they cannot bloat log lines
	maxRequestIDLength = 128
)

type requestIDContextKey struct{}

// RequestIDMiddleware ensures every request carries an X-Request-ID.
//
// An inbound X-Request-ID (from a load balancer or the caller) is reused when present and
// reasonably short; otherwise a UUID v4 is generated. The ID is stored under RequestIDKey
// in the gin.Context, attached to the request's context.Context for code below the HTTP
// layer, and echoed back in the response header.
//
// Register it before MetricsMiddleware and the request logger so every log line has it.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDContextKey{}, id))
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// RequestIDFromContext returns the request ID attached by RequestIDMiddleware, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
