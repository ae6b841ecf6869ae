// users.go implements handlers for user account management: listing, creation, profile
// updates, role assignment, activation, deactivation and permanent deletion.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/middleware"
	"github.com/opsconsole/opsconsole/internal/services"
)

// UserDirectory is the read side of the user store. *repositories.UserRepository implements it.
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
	ListUsersByRole(ctx context.Context, role auth.Role) ([]*models.User, error)
	Stats(ctx context.Context) (*models.UserStats, error)
	CountByRole(ctx context.Context) ([]models.RoleCount, error)
}

// UserHandlers handles user management endpoints
type UserHandlers struct {
	users     *services.UserService
	access    *services.AccessService
	directory UserDirectory
}

// NewUserHandlers creates a new UserHandlers instance
func NewUserHandlers(users *services.UserService, access *services.AccessService, directory UserDirectory) *UserHandlers {
	return &UserHandlers{users: users, access: access, directory: directory}
}

// actor returns the authenticated caller set by middleware.AuthMiddleware
func actor(c *gin.Context) (*models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
	}
	return user, ok
}

// @Summary      List users
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        page      query  int  false  "Page number (default 1)"
// @Param        per_page  query  int  false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "users: []models.User, pagination: map"
// @Router       /api/v1/users [get]
// ListUsersHandler lists all users with pagination
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		users, total, err := h.directory.ListUsers(c.Request.Context(), perPage, (page-1)*perPage)
		if err != nil {
			respondError(c, err, "Failed to list users")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"users": users,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// GetUserHandler retrieves a specific user by ID
// GET /api/v1/users/:id
func (h *UserHandlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}

		user, err := h.directory.GetUserByID(c.Request.Context(), id)
		if err != nil {
			respondError(c, err, "Failed to retrieve user")
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// MeHandler returns the caller's own account
// GET /api/v1/users/me
func (h *UserHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := actor(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user":       user,
			"role_label": user.RoleLabel(),
		})
	}
}

// CreateUserRequest represents the request to create a new user
type CreateUserRequest struct {
	Email      string     `json:"email" binding:"required"`
	Name       string     `json:"name" binding:"required"`
	Role       *auth.Role `json:"role"`
	Department *string    `json:"department"`
}

// @Summary      Create user
// @Description  Creates an inactive account with a temporary password that must be changed at first login.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateUserRequest  true  "User creation request"
// @Success      201  {object}  map[string]interface{}  "user: models.User, temporary_password: string"
// @Failure      409  {object}  map[string]interface{}  "User with this email already exists"
// @Router       /api/v1/users [post]
// CreateUserHandler creates a new user (admin only)
func (h *UserHandlers) CreateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := actor(c)
		if !ok {
			return
		}

		var req CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if errors.Is(err, auth.ErrInvalidRole) {
				respondError(c, err, "Failed to create user")
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		user, tempPassword, err := h.users.CreateUser(c.Request.Context(), caller, services.CreateUserInput{
			Email:      req.Email,
			Name:       req.Name,
			Role:       req.Role,
			Department: req.Department,
		})
		if err != nil {
			respondError(c, err, "Failed to create user")
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"user":               user,
			"temporary_password": tempPassword,
		})
	}
}

// AssignRoleRequest carries the new role as a tag ("safety_officer") or code (1)
type AssignRoleRequest struct {
	Role *auth.Role `json:"role" binding:"required"`
}

// @Summary      Assign role
// @Description  Replaces the operational role of a user. Unknown roles are rejected and nothing is written.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  int                true  "User ID"
// @Param        body  body  AssignRoleRequest  true  "New role"
// @Success      200  {object}  map[string]interface{}  "user: models.User"
// @Failure      400  {object}  map[string]interface{}  "Invalid role"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/v1/users/{id}/role [put]
// AssignRoleHandler changes a user's role
func (h *UserHandlers) AssignRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := actor(c)
		if !ok {
			return
		}
		id, ok := idParam(c)
		if !ok {
			return
		}

		var req AssignRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if errors.Is(err, auth.ErrInvalidRole) {
				respondError(c, err, "Failed to update role")
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		user, err := h.access.AssignRole(c.Request.Context(), caller, id, *req.Role)
		if err != nil {
			respondError(c, err, "Failed to update role")
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// UpdateUserRequest changes profile fields. Omitted fields are left unchanged; an empty
// department clears it.
type UpdateUserRequest struct {
	Name       *string `json:"name"`
	Department *string `json:"department"`
}

// @Summary      Update user
// @Description  Changes the display name and department of an account. Role and activation have their own endpoints.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  int                true  "User ID"
// @Param        body  body  UpdateUserRequest  true  "Profile fields"
// @Success      200  {object}  map[string]interface{}  "user: models.User"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/v1/users/{id} [put]
// UpdateUserHandler updates a user's profile
func (h *UserHandlers) UpdateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := actor(c)
		if !ok {
			return
		}
		id, ok := idParam(c)
		if !ok {
			return
		}

		var req UpdateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		user, err := h.users.UpdateProfile(c.Request.Context(), caller, id, services.UpdateProfileInput{
			Name:       req.Name,
			Department: req.Department,
		})
		if err != nil {
			respondError(c, err, "Failed to update user")
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// ActivateUserHandler activates a pending or deactivated account
// POST /api/v1/users/:id/activate
func (h *UserHandlers) ActivateUserHandler() gin.HandlerFunc {
	return h.setActive(true)
}

// DeactivateUserHandler deactivates an account. The row and its history are kept.
// POST /api/v1/users/:id/deactivate
func (h *UserHandlers) DeactivateUserHandler() gin.HandlerFunc {
	return h.setActive(false)
}

func (h *UserHandlers) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := actor(c)
		if !ok {
			return
		}
		id, ok := idParam(c)
		if !ok {
			return
		}

		user, err := h.users.SetActive(c.Request.Context(), caller, id, active)
		if err != nil {
			respondError(c, err, "Failed to update user")
			return
		}

		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// DeleteUserHandler permanently deletes a user
// DELETE /api/v1/users/:id
func (h *UserHandlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := actor(c)
		if !ok {
			return
		}
		id, ok := idParam(c)
		if !ok {
			return
		}

		if err := h.users.Delete(c.Request.Context(), caller, id); err != nil {
			respondError(c, err, "Failed to delete user")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
	}
}

// UserStatsHandler returns account counts for the admin dashboard, with per-role counts
// GET /api/v1/users/stats
func (h *UserHandlers) UserStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.directory.Stats(c.Request.Context())
		if err != nil {
			respondError(c, err, "Failed to load user statistics")
			return
		}
		byRole, err := h.directory.CountByRole(c.Request.Context())
		if err != nil {
			respondError(c, err, "Failed to load user statistics")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"total_users":    stats.Total,
			"active_users":   stats.Active,
			"inactive_users": stats.Inactive,
			"employees":      stats.Employees,
			"by_role":        byRole,
		})
	}
}

// UsersByRoleHandler lists the active holders of one role
// GET /api/v1/roles/:role/users
func (h *UserHandlers) UsersByRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.ParseRole(c.Param("role"))
		if err != nil {
			respondError(c, err, "Failed to list users")
			return
		}

		users, err := h.directory.ListUsersByRole(c.Request.Context(), role)
		if err != nil {
			respondError(c, err, "Failed to list users")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"role":  role,
			"label": role.Label(),
			"users": users,
		})
	}
}
