// rbac.go implements handlers for the role catalogue, caller access checks and per-group
// module access grants.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
)

// RBACHandlers handles role and grant endpoints
type RBACHandlers struct {
	access *services.AccessService
}

// NewRBACHandlers creates a new RBAC handlers instance
func NewRBACHandlers(access *services.AccessService) *RBACHandlers {
	return &RBACHandlers{access: access}
}

// RoleInfo describes one role for selection lists
type RoleInfo struct {
	Code  int    `json:"code"`
	Key   string `json:"key"`
	Label string `json:"label"`
}

// ============================================================================
// Roles
// ============================================================================

// @Summary      List roles
// @Description  Returns the fixed set of operational roles with their codes and display labels.
// @Tags         RBAC
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "roles: []RoleInfo"
// @Router       /api/v1/roles [get]
// ListRoles returns every role in code order
func (h *RBACHandlers) ListRoles(c *gin.Context) {
	roles := auth.AllRoles()
	out := make([]RoleInfo, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleInfo{Code: r.Code(), Key: r.Tag(), Label: r.Label()})
	}
	c.JSON(http.StatusOK, gin.H{"roles": out})
}

// CheckAccess reports whether the caller currently holds the role named by ?role=.
// It answers 200 with allowed=false rather than 403 so clients can use it to shape UI.
// GET /api/v1/access/check?role=safety_officer
func (h *RBACHandlers) CheckAccess(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	role, err := auth.ParseRole(c.Query("role"))
	if err != nil {
		respondError(c, err, "Failed to check access")
		return
	}

	err = h.access.Require(c.Request.Context(), userID, role)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"role": role, "allowed": true})
	case isUnauthorized(err):
		c.JSON(http.StatusOK, gin.H{"role": role, "allowed": false})
	default:
		respondError(c, err, "Failed to check access")
	}
}

// ============================================================================
// Module grants
// ============================================================================

// ListGrants returns all grants, or one group's grants with ?group=
// GET /api/v1/role-grants
func (h *RBACHandlers) ListGrants(c *gin.Context) {
	var group *string
	if g := strings.TrimSpace(c.Query("group")); g != "" {
		group = &g
	}

	grants, err := h.access.ListGrants(c.Request.Context(), group)
	if err != nil {
		respondError(c, err, "Failed to list grants")
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants})
}

// UpsertGrantRequest sets one group's access level on one module
type UpsertGrantRequest struct {
	Group  string            `json:"group" binding:"required"`
	Module string            `json:"module" binding:"required"`
	Level  *auth.AccessLevel `json:"access_level" binding:"required"`
}

// @Summary      Set module grant
// @Description  Creates or replaces the access level (none, view, edit, full) of a group on a module.
// @Tags         RBAC
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  UpsertGrantRequest  true  "Grant"
// @Success      200  {object}  models.RoleGrant
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Router       /api/v1/role-grants [put]
// UpsertGrant creates or replaces a grant
func (h *RBACHandlers) UpsertGrant(c *gin.Context) {
	caller, ok := actor(c)
	if !ok {
		return
	}
	var req UpsertGrantRequest
	if !bindJSON(c, &req) {
		return
	}

	grant, err := h.access.UpsertGrant(c.Request.Context(), caller, req.Group, req.Module, *req.Level)
	if err != nil {
		respondError(c, err, "Failed to save grant")
		return
	}
	c.JSON(http.StatusOK, grant)
}

// ResolveGrant returns the effective access level of ?group= on ?module=. Groups without a
// grant resolve to "none".
// GET /api/v1/role-grants/resolve
func (h *RBACHandlers) ResolveGrant(c *gin.Context) {
	group := strings.TrimSpace(c.Query("group"))
	module := strings.TrimSpace(c.Query("module"))
	if group == "" || module == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group and module are required"})
		return
	}

	level, err := h.access.ResolveModuleAccess(c.Request.Context(), group, module)
	if err != nil {
		respondError(c, err, "Failed to resolve access")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"group":        group,
		"module":       module,
		"access_level": level,
	})
}
