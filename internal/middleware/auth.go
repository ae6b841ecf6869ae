// Package middleware provides Gin HTTP middleware for authentication, role gates,
// rate limiting, request identification, metrics and security headers.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Metrics → Logger → CORS → Security → RateLimit → Auth → RequireRole/RequireAdmin → Handler
//
// Security headers run early so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the caller identity; the role gates read the user ID from that context
// and re-check the stored identity on every request.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
)

const (
	// UserKey holds the *models.User loaded for the request
	UserKey = "user"
	// UserIDKey holds the authenticated user's ID as int64
	UserIDKey = "user_id"
)

// UserLoader loads the identity named by a token. *repositories.UserRepository implements it.
type UserLoader interface {
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header. The
// message is suitable for a 401 body when ok is false.
func bearerToken(c *gin.Context) (token string, msg string, ok bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Missing authorization header", false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "Authorization header must start with 'Bearer '", false
	}
	token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "Authorization token is empty", false
	}
	return token, "", true
}

// AuthMiddleware validates the session JWT and loads the user it names. Deactivated
// accounts are rejected here so that every authenticated route sees an active identity.
func AuthMiddleware(users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "User not found",
			})
			return
		}
		if !user.Active() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Account is not active",
			})
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)
		c.Next()
	}
}

// CurrentUser returns the user stored by AuthMiddleware
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, exists := c.Get(UserKey)
	if !exists {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

// CurrentUserID returns the authenticated user's ID
func CurrentUserID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
