// Package models - role_grant.go defines RoleGrant, the per-group module access row.
package models

import (
	"time"

	"github.com/opsconsole/opsconsole/internal/auth"
)

// RoleGrant assigns an access level on one module to a permission group.
// (Group, Module) is unique; writes are upserts.
type RoleGrant struct {
	ID        int64            `db:"id" json:"id"`
	Group     string           `db:"group_name" json:"group"`
	Module    string           `db:"module" json:"module"`
	Level     auth.AccessLevel `db:"access_level" json:"access_level"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}
