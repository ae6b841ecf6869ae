// Package middleware (rbac.go) implements the role gates.
//
// Gates do not trust anything cached in the token or the request context beyond the
// user ID: the identity is re-read on every request, so a role change or deactivation
// takes effect on the caller's next request without reissuing their token.

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opsconsole/opsconsole/internal/auth"
)

// Authorizer answers role and admin questions. *services.AccessService implements it.
type Authorizer interface {
	Require(ctx context.Context, userID int64, role auth.Role) error
	RequireAdmin(ctx context.Context, userID int64) error
}

// RequireRole allows the request only if the caller currently holds exactly role.
// There is no hierarchy: administrators and holders of other roles are refused.
func RequireRole(role auth.Role, authz Authorizer) gin.HandlerFunc {
	return gate(func(ctx context.Context, userID int64) error {
		return authz.Require(ctx, userID, role)
	})
}

// ModuleAuthorizer answers graded module access questions
type ModuleAuthorizer interface {
	RequireModuleAccess(ctx context.Context, userID int64, module string, min auth.AccessLevel) error
}

// RequireModuleAccess allows the request only if the caller's group currently holds at least
// min on module
func RequireModuleAccess(module string, min auth.AccessLevel, authz ModuleAuthorizer) gin.HandlerFunc {
	return gate(func(ctx context.Context, userID int64) error {
		return authz.RequireModuleAccess(ctx, userID, module, min)
	})
}

// RequireAdmin allows the request only if the caller is currently an active administrator
func RequireAdmin(authz Authorizer) gin.HandlerFunc {
	return gate(authz.RequireAdmin)
}

func gate(check func(ctx context.Context, userID int64) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := CurrentUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		if err := check(c.Request.Context(), userID); err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "Insufficient permissions",
					"details": err.Error(),
				})
				return
			}
			slog.Error("authorization check failed", "user_id", userID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check permissions",
			})
			return
		}

		c.Next()
	}
}
