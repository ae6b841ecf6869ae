// activity.go implements the recent-activity feed and the gate that decides who may read
// which module's feed.
package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
)

// ModuleOwners maps an operational module to the role whose holders may read its feed
var ModuleOwners = map[string]auth.Role{
	"projects":   auth.RoleProjectManager,
	"safety":     auth.RoleSafetyOfficer,
	"inventory":  auth.RoleInventoryManager,
	"production": auth.RoleProductionManager,
	"equipment":  auth.RoleEquipmentManager,
}

// ActivityHandlers serves the activity feed
type ActivityHandlers struct {
	recorder *audit.Recorder
	access   *services.AccessService
}

// NewActivityHandlers creates a new ActivityHandlers instance
func NewActivityHandlers(recorder *audit.Recorder, access *services.AccessService) *ActivityHandlers {
	return &ActivityHandlers{recorder: recorder, access: access}
}

// FeedGate authorizes GET /activity/recent. Administrators may read every feed. Holders of
// a module's owning role may read that module's feed. Modules without an owner are readable
// by groups granted at least view access on them. The unfiltered feed is administrator-only.
func (h *ActivityHandlers) FeedGate() gin.HandlerFunc {
	roleGates := make(map[string]gin.HandlerFunc, len(ModuleOwners))
	for module, role := range ModuleOwners {
		roleGates[module] = middleware.RequireRole(role, h.access)
	}

	return func(c *gin.Context) {
		userID, ok := middleware.CurrentUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		err := h.access.RequireAdmin(c.Request.Context(), userID)
		if err == nil {
			c.Next()
			return
		}
		if !isUnauthorized(err) {
			respondError(c, err, "Failed to check permissions")
			c.Abort()
			return
		}

		module := moduleParam(c)
		if module == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Insufficient permissions",
				"details": err.Error(),
			})
			return
		}
		if gate, owned := roleGates[module]; owned {
			gate(c)
			return
		}
		middleware.RequireModuleAccess(module, auth.AccessView, h.access)(c)
	}
}

// moduleParam is the ?module= filter as both the gate and the query see it
func moduleParam(c *gin.Context) string {
	return strings.TrimSpace(c.Query("module"))
}

// @Summary      Recent activity
// @Description  Returns the newest activity records first. The module filter is applied before the limit.
// @Tags         Activity
// @Security     Bearer
// @Produce      json
// @Param        limit   query  int     false  "Maximum records (default 20, max 100)"
// @Param        module  query  string  false  "Only records of this module"
// @Success      200  {object}  map[string]interface{}  "activity: []models.ActivityView"
// @Failure      403  {object}  map[string]interface{}  "Insufficient permissions"
// @Router       /api/v1/activity/recent [get]
// RecentActivity returns the recent activity feed
func (h *ActivityHandlers) RecentActivity(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	var module *string
	if m := moduleParam(c); m != "" {
		module = &m
	}

	views, err := h.recorder.Recent(c.Request.Context(), limit, module)
	if err != nil {
		respondError(c, err, "Failed to load activity")
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": views})
}
