// role_grant_repository.go implements RoleGrantRepository, the store for per-group module
// access levels.
package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/opsconsole/opsconsole/internal/db/models"
)

// RoleGrantRepository handles role_module_permissions rows
type RoleGrantRepository struct {
	db *sqlx.DB
}

// NewRoleGrantRepository creates a new RoleGrantRepository
func NewRoleGrantRepository(db *sqlx.DB) *RoleGrantRepository {
	return &RoleGrantRepository{db: db}
}

// GetGrant returns the grant for (group, module), or nil if none exists
func (r *RoleGrantRepository) GetGrant(ctx context.Context, group, module string) (*models.RoleGrant, error) {
	query := `SELECT id, group_name, module, access_level, updated_at
			  FROM role_module_permissions WHERE group_name = $1 AND module = $2`

	var g models.RoleGrant
	err := r.db.GetContext(ctx, &g, query, group, module)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// UpsertGrant creates or replaces the access level for (group, module)
func (r *RoleGrantRepository) UpsertGrant(ctx context.Context, g *models.RoleGrant) error {
	query := `INSERT INTO role_module_permissions (group_name, module, access_level, updated_at)
			  VALUES ($1, $2, $3, NOW())
			  ON CONFLICT (group_name, module) DO UPDATE
			  SET access_level = EXCLUDED.access_level, updated_at = NOW()
			  RETURNING id, updated_at`

	return r.db.QueryRowxContext(ctx, query, g.Group, g.Module, int64(g.Level)).Scan(&g.ID, &g.UpdatedAt)
}

// ListGrants returns all grants, optionally restricted to one group
func (r *RoleGrantRepository) ListGrants(ctx context.Context, group *string) ([]*models.RoleGrant, error) {
	query := `SELECT id, group_name, module, access_level, updated_at FROM role_module_permissions`
	args := make([]interface{}, 0, 1)
	if group != nil {
		query += ` WHERE group_name = $1`
		args = append(args, *group)
	}
	query += ` ORDER BY group_name, module`

	grants := make([]*models.RoleGrant, 0)
	if err := r.db.SelectContext(ctx, &grants, query, args...); err != nil {
		return nil, err
	}
	return grants, nil
}
