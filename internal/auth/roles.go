// Package auth - roles.go defines the closed set of operational roles, their stable tags and
// display labels, and the pure authorization predicates that gate role-restricted operations.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnauthorized is returned when an identity is missing, inactive, or holds a different role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRole is returned when a role value is outside the defined enumeration.
	ErrInvalidRole = errors.New("invalid role")
)

// Role is an operational role. The integer code is the persisted value.
type Role int

const (
	RoleProjectManager Role = iota
	RoleSafetyOfficer
	RoleInventoryManager
	RoleProductionManager
	RoleEquipmentManager
)

var roleTags = [...]string{
	RoleProjectManager:    "project_manager",
	RoleSafetyOfficer:     "safety_officer",
	RoleInventoryManager:  "inventory_manager",
	RoleProductionManager: "production_manager",
	RoleEquipmentManager:  "equipment_manager",
}

var roleLabels = [...]string{
	RoleProjectManager:    "Project Manager",
	RoleSafetyOfficer:     "Safety Officer",
	RoleInventoryManager:  "Inventory Manager",
	RoleProductionManager: "Production Manager",
	RoleEquipmentManager:  "Equipment Manager",
}

// AllRoles returns every role in code order
func AllRoles() []Role {
	return []Role{
		RoleProjectManager,
		RoleSafetyOfficer,
		RoleInventoryManager,
		RoleProductionManager,
		RoleEquipmentManager,
	}
}

// Valid reports whether r is one of the defined roles
func (r Role) Valid() bool {
	return r >= RoleProjectManager && r <= RoleEquipmentManager
}

// Code returns the integer code persisted for the role
func (r Role) Code() int {
	return int(r)
}

// Tag returns the stable machine identifier, e.g. "inventory_manager"
func (r Role) Tag() string {
	if !r.Valid() {
		return ""
	}
	return roleTags[r]
}

// Label returns the human-readable name, e.g. "Inventory Manager"
func (r Role) Label() string {
	if !r.Valid() {
		return ""
	}
	return roleLabels[r]
}

func (r Role) String() string {
	if !r.Valid() {
		return "Role(" + strconv.Itoa(int(r)) + ")"
	}
	return roleTags[r]
}

// RoleLabel returns the display label for an optional role. Identities without a role are
// shown as "User".
func RoleLabel(r *Role) string {
	if r == nil || !r.Valid() {
		return "User"
	}
	return r.Label()
}

// ParseRole resolves a role from its tag. Unknown tags are never coerced.
func ParseRole(tag string) (Role, error) {
	for _, r := range AllRoles() {
		if roleTags[r] == tag {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRole, tag)
}

// RoleFromCode resolves a role from its integer code.
func RoleFromCode(code int) (Role, error) {
	r := Role(code)
	if !r.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRole, code)
	}
	return r, nil
}

// MarshalJSON encodes the role as its tag
func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, int(r))
	}
	return json.Marshal(roleTags[r])
}

// UnmarshalJSON accepts either the tag ("safety_officer") or the integer code (1).
func (r *Role) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		parsed, err := ParseRole(tag)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}

	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRole, string(data))
	}
	parsed, err := RoleFromCode(code)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Principal is the view of an identity that the authorization predicates need.
// Implementations must tolerate nil receivers.
type Principal interface {
	Active() bool
	AssignedRole() *Role
	Administrator() bool
}

// Authorize reports whether p may perform an operation restricted to required.
// Only an exact role match on an active identity passes; there is no role hierarchy and an
// administrator does not implicitly hold any operational role.
func Authorize(p Principal, required Role) bool {
	if p == nil || !p.Active() {
		return false
	}
	role := p.AssignedRole()
	if role == nil {
		return false
	}
	return *role == required
}

// AuthorizeAdmin reports whether p holds the administrator capability.
func AuthorizeAdmin(p Principal) bool {
	if p == nil || !p.Active() {
		return false
	}
	return p.Administrator()
}
