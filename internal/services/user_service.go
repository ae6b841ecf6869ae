package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
)

const (
	minPasswordLength      = 8
	defaultTempPasswordLen = 12
)

// RegisterInput is a self-registration request
type RegisterInput struct {
	Email      string
	Name       string
	Password   string
	Department *string
}

// CreateUserInput is an administrator's request to create an account
type CreateUserInput struct {
	Email      string
	Name       string
	Role       *auth.Role
	Department *string
}

// UserService implements account lifecycle operations. Each write commits first and is then
// recorded; a failed activity write fails the call.
type UserService struct {
	users    UserStore
	recorder ActivityRecorder
	cfg      *config.AuthConfig
}

// NewUserService creates a new UserService
func NewUserService(users UserStore, recorder ActivityRecorder, cfg *config.AuthConfig) *UserService {
	return &UserService{users: users, recorder: recorder, cfg: cfg}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}

func (s *UserService) record(ctx context.Context, actor, subject *models.User, action audit.Action, text string) error {
	_, err := s.recorder.Record(ctx, audit.RecordInput{
		Actor:       actor,
		Module:      usersModule,
		EntityType:  "user",
		EntityID:    &subject.ID,
		Action:      action,
		Description: audit.Describe(actor, text),
	})
	return err
}

// Register creates an inactive account for the caller. An administrator must activate it.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if !s.cfg.AllowRegistration {
		return nil, ErrRegistrationClosed
	}

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		Department:   in.Department,
		IsActive:     false,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.record(ctx, user, user, audit.ActionCreate, "registered an account"); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser creates an inactive account with a generated temporary password that must be
// changed at first login. The temporary password is returned once and never stored in clear.
func (s *UserService) CreateUser(ctx context.Context, actor *models.User, in CreateUserInput) (*models.User, string, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, "", err
	}
	if in.Role != nil && !in.Role.Valid() {
		return nil, "", fmt.Errorf("%w: %d", auth.ErrInvalidRole, in.Role.Code())
	}

	tempPassword, err := auth.GenerateTempPassword(s.tempPasswordLength())
	if err != nil {
		return nil, "", err
	}
	hash, err := auth.HashPassword(tempPassword, s.cfg.BcryptCost)
	if err != nil {
		return nil, "", err
	}

	user := &models.User{
		Email:              email,
		Name:               strings.TrimSpace(in.Name),
		Role:               in.Role,
		Department:         in.Department,
		IsActive:           false,
		MustChangePassword: true,
		PasswordHash:       hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	text := fmt.Sprintf("created user %s as %s", user.DisplayName(), user.RoleLabel())
	if err := s.record(ctx, actor, user, audit.ActionCreate, text); err != nil {
		return nil, "", err
	}
	return user, tempPassword, nil
}

// UpdateProfileInput carries the profile fields to change. Nil fields are left as they are;
// an empty department clears it.
type UpdateProfileInput struct {
	Name       *string
	Department *string
}

// UpdateProfile changes the display name and department of an account. Role and activation
// have their own operations.
func (s *UserService) UpdateProfile(ctx context.Context, actor *models.User, userID int64, in UpdateProfileInput) (*models.User, error) {
	var name string
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, repositories.ErrNotFound
	}

	if in.Name != nil {
		user.Name = name
	}
	if in.Department != nil {
		if d := strings.TrimSpace(*in.Department); d != "" {
			user.Department = &d
		} else {
			user.Department = nil
		}
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	if err := s.record(ctx, actor, user, audit.ActionUpdate, "updated profile of "+user.DisplayName()); err != nil {
		return nil, err
	}
	return user, nil
}

// SetActive activates or deactivates an account. Deactivation is the normal way to remove
// an employee; the row and its activity history remain.
func (s *UserService) SetActive(ctx context.Context, actor *models.User, userID int64, active bool) (*models.User, error) {
	if err := s.users.SetActive(ctx, userID, active); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}
	if user == nil {
		return nil, repositories.ErrNotFound
	}

	verb := "deactivated"
	if active {
		verb = "activated"
	}
	if err := s.record(ctx, actor, user, audit.ActionUpdate, verb+" user "+user.DisplayName()); err != nil {
		return nil, err
	}
	return user, nil
}

// Delete permanently removes an account. Its activity records keep a null actor.
func (s *UserService) Delete(ctx context.Context, actor *models.User, userID int64) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return repositories.ErrNotFound
	}
	if actor != nil && actor.ID == userID {
		return fmt.Errorf("%w: administrators cannot delete their own account", ErrInvalidInput)
	}

	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return s.record(ctx, actor, user, audit.ActionDelete, "permanently deleted user "+user.DisplayName())
}

// Login checks the credentials and issues a session token
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, "", ErrInactive
	}

	token, err := auth.GenerateJWT(user.ID, user.Email, s.tokenTTL())
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	if err := s.record(ctx, user, user, audit.ActionLogin, "logged in"); err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Refresh issues a new session token for an authenticated, active caller
func (s *UserService) Refresh(_ context.Context, actor *models.User) (string, error) {
	if actor == nil || !actor.IsActive {
		return "", ErrInactive
	}
	token, err := auth.GenerateJWT(actor.ID, actor.Email, s.tokenTTL())
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	return token, nil
}

// Logout records the end of a session. Tokens are stateless and simply expire.
func (s *UserService) Logout(ctx context.Context, actor *models.User) error {
	return s.record(ctx, actor, actor, audit.ActionLogout, "logged out")
}

// ChangePassword replaces the caller's password and clears the must-change flag
func (s *UserService) ChangePassword(ctx context.Context, actor *models.User, current, next string) error {
	if !auth.CheckPassword(actor.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := validatePassword(next); err != nil {
		return err
	}

	hash, err := auth.HashPassword(next, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, actor.ID, hash, false); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return s.record(ctx, actor, actor, audit.ActionUpdate, "changed password")
}

func (s *UserService) tokenTTL() time.Duration {
	if s.cfg.TokenTTL > 0 {
		return s.cfg.TokenTTL
	}
	return 24 * time.Hour
}

func (s *UserService) tempPasswordLength() int {
	if s.cfg.TempPasswordLength >= minPasswordLength {
		return s.cfg.TempPasswordLength
	}
	return defaultTempPasswordLen
}
