// errors.go maps service and repository errors onto HTTP responses.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
	"github.com/opsconsole/opsconsole/internal/services"
	"github.com/opsconsole/opsconsole/internal/verification"
)

// respondError writes the JSON error body for err. action names the failed operation in
// 500 responses (e.g. "Failed to update role"); details are never exposed for those.
func respondError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions", "details": err.Error()})
	case errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, verification.ErrInvalidMethod),
		errors.Is(err, verification.ErrInvalidDestination):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInactive):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrRegistrationClosed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, repositories.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, repositories.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "Already exists", "details": err.Error()})
	case errors.Is(err, audit.ErrWriteFailure):
		// The primary change is committed; the caller must know it was not recorded.
		slog.Error("activity record not written", "action", action, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": action + ": activity could not be recorded"})
	default:
		slog.Error(action, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": action})
	}
}

// idParam parses the :id path parameter, writing a 400 when it is not a positive integer
func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return 0, false
	}
	return id, true
}

// bindJSON binds the request body, writing a 400 on failure
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return false
	}
	return true
}

func isUnauthorized(err error) bool {
	return errors.Is(err, auth.ErrUnauthorized)
}
