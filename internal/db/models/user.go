// Package models - user.go defines the User model for console accounts with an optional
// operational role, the orthogonal administrator capability, and account lifecycle flags.
package models

import (
	"time"

	"github.com/opsconsole/opsconsole/internal/auth"
)

// User represents an account. Role is nil for identities without an operational role.
type User struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Role               *auth.Role `json:"role"`
	Department         *string    `json:"department,omitempty"`
	IsActive           bool       `json:"is_active"`
	IsAdmin            bool       `json:"is_admin"`
	MustChangePassword bool       `json:"must_change_password"`
	PasswordHash       string     `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Active implements auth.Principal
func (u *User) Active() bool {
	return u != nil && u.IsActive
}

// AssignedRole implements auth.Principal
func (u *User) AssignedRole() *auth.Role {
	if u == nil {
		return nil
	}
	return u.Role
}

// Administrator implements auth.Principal
func (u *User) Administrator() bool {
	return u != nil && u.IsAdmin
}

// RoleLabel returns the display label of the user's role, "User" when none is assigned
func (u *User) RoleLabel() string {
	return auth.RoleLabel(u.AssignedRole())
}

// DisplayName returns the name, falling back to the email address
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// UserStats aggregates account counts for the admin dashboard
type UserStats struct {
	Total     int `json:"total_users"`
	Active    int `json:"active_users"`
	Inactive  int `json:"inactive_users"`
	Employees int `json:"employees"`
}

// RoleCount is the number of users holding one role
type RoleCount struct {
	Role  auth.Role `json:"role"`
	Label string    `json:"label"`
	Count int       `json:"count"`
}
