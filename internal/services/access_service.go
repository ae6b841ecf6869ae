package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/db/repositories"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// UserStore is the subset of the user repository the services depend on
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	UpdateUserRole(ctx context.Context, userID int64, role auth.Role) error
	SetActive(ctx context.Context, userID int64, active bool) error
	SetPassword(ctx context.Context, userID int64, hash string, mustChange bool) error
	DeleteUser(ctx context.Context, userID int64) error
}

// GrantStore persists role-to-module access grants
type GrantStore interface {
	GetGrant(ctx context.Context, group, module string) (*models.RoleGrant, error)
	UpsertGrant(ctx context.Context, g *models.RoleGrant) error
	ListGrants(ctx context.Context, group *string) ([]*models.RoleGrant, error)
}

// ActivityRecorder appends activity records. *audit.Recorder implements it.
type ActivityRecorder interface {
	Record(ctx context.Context, in audit.RecordInput) (*models.ActivityRecord, error)
}

const (
	usersModule  = "users"
	accessModule = "access"
)

// AccessService answers authorization questions against the current state of the store and
// performs the audited writes that change it. Nothing is cached: every check reads the
// identity or grant again.
type AccessService struct {
	users    UserStore
	grants   GrantStore
	recorder ActivityRecorder
}

// NewAccessService creates a new AccessService
func NewAccessService(users UserStore, grants GrantStore, recorder ActivityRecorder) *AccessService {
	return &AccessService{users: users, grants: grants, recorder: recorder}
}

// Require re-reads the identity and returns auth.ErrUnauthorized unless it is active and holds
// exactly role.
func (s *AccessService) Require(ctx context.Context, userID int64, role auth.Role) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	if !auth.Authorize(user, role) {
		telemetry.AuthorizationDecisionsTotal.WithLabelValues("role", "denied").Inc()
		return fmt.Errorf("%w: requires role %s", auth.ErrUnauthorized, role.Tag())
	}
	telemetry.AuthorizationDecisionsTotal.WithLabelValues("role", "allowed").Inc()
	return nil
}

// RequireAdmin re-reads the identity and returns auth.ErrUnauthorized unless it is an active
// administrator.
func (s *AccessService) RequireAdmin(ctx context.Context, userID int64) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	if !auth.AuthorizeAdmin(user) {
		telemetry.AuthorizationDecisionsTotal.WithLabelValues("admin", "denied").Inc()
		return fmt.Errorf("%w: requires administrator", auth.ErrUnauthorized)
	}
	telemetry.AuthorizationDecisionsTotal.WithLabelValues("admin", "allowed").Inc()
	return nil
}

// ResolveModuleAccess returns the access level granted to group on module. A missing grant
// resolves to auth.AccessNone.
func (s *AccessService) ResolveModuleAccess(ctx context.Context, group, module string) (auth.AccessLevel, error) {
	grant, err := s.grants.GetGrant(ctx, group, module)
	if err != nil {
		return auth.AccessNone, fmt.Errorf("failed to load grant: %w", err)
	}
	if grant == nil {
		return auth.AccessNone, nil
	}
	return grant.Level, nil
}

// RequireModuleAccess re-reads the identity and returns auth.ErrUnauthorized unless it is
// active and its department's grant on module is at least min. Identities without a
// department hold no grants.
func (s *AccessService) RequireModuleAccess(ctx context.Context, userID int64, module string, min auth.AccessLevel) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	level := auth.AccessNone
	if user != nil && user.IsActive && user.Department != nil && strings.TrimSpace(*user.Department) != "" {
		level, err = s.ResolveModuleAccess(ctx, *user.Department, module)
		if err != nil {
			return err
		}
	}

	if !level.Allows(min) {
		telemetry.AuthorizationDecisionsTotal.WithLabelValues("module", "denied").Inc()
		return fmt.Errorf("%w: requires %s access to %s", auth.ErrUnauthorized, min, module)
	}
	telemetry.AuthorizationDecisionsTotal.WithLabelValues("module", "allowed").Inc()
	return nil
}

// AssignRole validates role against the closed role set, persists it and records the change.
// An invalid role returns auth.ErrInvalidRole without touching the store; a missing user
// returns repositories.ErrNotFound.
func (s *AccessService) AssignRole(ctx context.Context, actor *models.User, userID int64, role auth.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %d", auth.ErrInvalidRole, role.Code())
	}

	before, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if before == nil {
		return nil, repositories.ErrNotFound
	}

	if err := s.users.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	updated, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}
	if updated == nil {
		return nil, repositories.ErrNotFound
	}

	text := fmt.Sprintf("changed role of %s from %s to %s",
		before.DisplayName(), before.RoleLabel(), role.Label())
	if _, err := s.recorder.Record(ctx, audit.RecordInput{
		Actor:       actor,
		Module:      usersModule,
		EntityType:  "user",
		EntityID:    &updated.ID,
		Action:      audit.ActionUpdate,
		Description: audit.Describe(actor, text),
	}); err != nil {
		return nil, err
	}

	return updated, nil
}

// UpsertGrant creates or replaces the grant for (group, module) and records the change.
func (s *AccessService) UpsertGrant(ctx context.Context, actor *models.User, group, module string, level auth.AccessLevel) (*models.RoleGrant, error) {
	group = strings.TrimSpace(group)
	module = strings.TrimSpace(module)
	if group == "" || module == "" {
		return nil, fmt.Errorf("%w: group and module are required", ErrInvalidInput)
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: access level %d", ErrInvalidInput, int(level))
	}

	grant := &models.RoleGrant{Group: group, Module: module, Level: level}
	if err := s.grants.UpsertGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to save grant: %w", err)
	}

	text := fmt.Sprintf("set %s access on %s to %s", group, module, level)
	if _, err := s.recorder.Record(ctx, audit.RecordInput{
		Actor:       actor,
		Module:      accessModule,
		EntityType:  "role_grant",
		EntityID:    &grant.ID,
		Action:      audit.ActionUpdate,
		Description: audit.Describe(actor, text),
	}); err != nil {
		return nil, err
	}

	return grant, nil
}

// ListGrants lists grants, optionally for a single group
func (s *AccessService) ListGrants(ctx context.Context, group *string) ([]*models.RoleGrant, error) {
	return s.grants.ListGrants(ctx, group)
}
