// activity_repository.go implements ActivityRepository, the append-only store for activity
// records. It deliberately exposes no update or delete operations.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opsconsole/opsconsole/internal/db/models"
)

// SystemActor is the display name used for records without an actor
const SystemActor = "System"

// ActivityRepository handles activity_records database operations
type ActivityRepository struct {
	db *sql.DB
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// CreateActivity appends a record. CreatedAt must already be set by the caller.
func (r *ActivityRepository) CreateActivity(ctx context.Context, rec *models.ActivityRecord) error {
	query := `
		INSERT INTO activity_records (user_id, module, entity_type, entity_id, action, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, query,
		rec.UserID,
		rec.Module,
		rec.EntityType,
		rec.EntityID,
		rec.Action,
		rec.Description,
		rec.CreatedAt,
	).Scan(&rec.ID)
}

// ListRecentActivity returns up to limit records, newest first. When module is non-nil only
// records of that module are considered, and the filter is applied before the limit.
func (r *ActivityRepository) ListRecentActivity(ctx context.Context, limit int, module *string) ([]*models.ActivityView, error) {
	query := `
		SELECT a.id, COALESCE(NULLIF(u.name, ''), u.email, '` + SystemActor + `'), a.module, a.entity_type, a.entity_id,
		       a.action, a.description, a.created_at
		FROM activity_records a
		LEFT JOIN users u ON u.id = a.user_id
	`
	args := make([]interface{}, 0, 2)
	if module != nil {
		query += ` WHERE a.module = $1`
		args = append(args, *module)
	}
	query += fmt.Sprintf(` ORDER BY a.created_at DESC, a.id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make([]*models.ActivityView, 0)
	for rows.Next() {
		v := &models.ActivityView{}
		var entityID sql.NullInt64
		err := rows.Scan(
			&v.ID,
			&v.User,
			&v.Module,
			&v.EntityType,
			&entityID,
			&v.Action,
			&v.Description,
			&v.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if entityID.Valid {
			id := entityID.Int64
			v.EntityID = &id
		}
		views = append(views, v)
	}

	return views, rows.Err()
}
