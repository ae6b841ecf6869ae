// auth.go implements the session endpoints: self-registration, password login, logout,
// password change and one-time verification codes.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opsconsole/opsconsole/internal/services"
	"github.com/opsconsole/opsconsole/internal/verification"
)

// AuthHandlers handles authentication endpoints
type AuthHandlers struct {
	users    *services.UserService
	verifier *verification.Service
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(users *services.UserService, verifier *verification.Service) *AuthHandlers {
	return &AuthHandlers{users: users, verifier: verifier}
}

// RegisterRequest is a self-registration request
type RegisterRequest struct {
	Email      string  `json:"email" binding:"required"`
	Name       string  `json:"name" binding:"required"`
	Password   string  `json:"password" binding:"required"`
	Department *string `json:"department"`
}

// @Summary      Register
// @Description  Creates an inactive account. An administrator must activate it before the user can log in.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "Registration"
// @Success      201  {object}  map[string]interface{}  "user: models.User"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/v1/auth/register [post]
func (h *AuthHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if !bindJSON(c, &req) {
			return
		}

		user, err := h.users.Register(c.Request.Context(), services.RegisterInput{
			Email:      req.Email,
			Name:       req.Name,
			Password:   req.Password,
			Department: req.Department,
		})
		if err != nil {
			respondError(c, err, "Failed to register")
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"user":    user,
			"message": "Account created. An administrator must activate it before you can log in.",
		})
	}
}

// LoginRequest carries password credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// @Summary      Login
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  map[string]interface{}  "token: string, user: models.User, must_change_password: bool"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials or inactive account"
// @Router       /api/v1/auth/login [post]
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if !bindJSON(c, &req) {
			return
		}

		user, token, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respondError(c, err, "Failed to log in")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":                token,
			"user":                 user,
			"must_change_password": user.MustChangePassword,
		})
	}
}

// LogoutHandler records the end of the caller's session. Tokens are stateless; the client
// discards its copy.
// POST /api/v1/auth/logout
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := actor(c)
		if !ok {
			return
		}
		if err := h.users.Logout(c.Request.Context(), caller); err != nil {
			respondError(c, err, "Failed to log out")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}

// RefreshHandler issues a fresh session token for the authenticated caller
// POST /api/v1/auth/refresh
func (h *AuthHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := actor(c)
		if !ok {
			return
		}
		token, err := h.users.Refresh(c.Request.Context(), caller)
		if err != nil {
			respondError(c, err, "Failed to refresh token")
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// ChangePasswordRequest replaces the caller's password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePasswordHandler changes the caller's password and clears must_change_password
// POST /api/v1/auth/password
func (h *AuthHandlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := actor(c)
		if !ok {
			return
		}
		var req ChangePasswordRequest
		if !bindJSON(c, &req) {
			return
		}

		if err := h.users.ChangePassword(c.Request.Context(), caller, req.CurrentPassword, req.NewPassword); err != nil {
			respondError(c, err, "Failed to change password")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Password changed"})
	}
}

// SendCodeRequest asks for a verification code
type SendCodeRequest struct {
	Method      string `json:"method" binding:"required"`
	Destination string `json:"destination" binding:"required"`
}

// @Summary      Send verification code
// @Description  Issues a single-use 6-digit code to an email address or phone number. Any earlier code for the destination is replaced.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  SendCodeRequest  true  "Method (email or sms) and destination"
// @Success      200  {object}  map[string]interface{}  "success: true"
// @Failure      400  {object}  map[string]interface{}  "Invalid method"
// @Router       /api/v1/auth/verification/send [post]
func (h *AuthHandlers) SendCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SendCodeRequest
		if !bindJSON(c, &req) {
			return
		}

		method, err := verification.ParseMethod(req.Method)
		if err != nil {
			respondError(c, err, "Failed to send code")
			return
		}
		if err := h.verifier.Send(c.Request.Context(), method, req.Destination); err != nil {
			respondError(c, err, "Failed to send code")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// VerifyCodeRequest checks a verification code
type VerifyCodeRequest struct {
	Destination string `json:"destination" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

// VerifyCodeHandler consumes a code. A wrong, expired or reused code answers
// {"verified": false} with 200 so the endpoint does not leak which case applied.
// POST /api/v1/auth/verification/verify
func (h *AuthHandlers) VerifyCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyCodeRequest
		if !bindJSON(c, &req) {
			return
		}

		ok, err := h.verifier.Verify(c.Request.Context(), req.Destination, req.Code)
		if err != nil {
			respondError(c, err, "Failed to verify code")
			return
		}
		c.JSON(http.StatusOK, gin.H{"verified": ok})
	}
}
