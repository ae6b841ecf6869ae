// Package repositories implements the data access layer for the operations console.
// Each repository type encapsulates all database queries for a domain entity.
// Handlers never issue SQL directly; all database access goes through this layer.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/db/models"
)

const userColumns = `id, email, name, role, department, is_active, is_admin, must_change_password,
		       password_hash, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var role sql.NullInt64
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&role,
		&user.Department,
		&user.IsActive,
		&user.IsAdmin,
		&user.MustChangePassword,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if role.Valid {
		r, err := auth.RoleFromCode(int(role.Int64))
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", user.ID, err)
		}
		user.Role = &r
	}
	return user, nil
}

func roleArg(r *auth.Role) interface{} {
	if r == nil {
		return nil
	}
	return int64(r.Code())
}

// CreateUser inserts a user and fills in the generated ID and timestamps
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, name, role, department, is_active, is_admin, must_change_password, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		user.Email,
		user.Name,
		roleArg(user.Role),
		user.Department,
		user.IsActive,
		user.IsAdmin,
		user.MustChangePassword,
		user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s", ErrDuplicate, user.Email)
	}
	return err
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUser updates the profile fields of a user
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET name = $2, department = $3, updated_at = $4
		WHERE id = $1
	`
	return r.execOne(ctx, query, user.ID, user.Name, user.Department, user.UpdatedAt)
}

// UpdateUserRole sets the role of a user. Callers must validate the role first.
func (r *UserRepository) UpdateUserRole(ctx context.Context, userID int64, role auth.Role) error {
	query := `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, userID, int64(role.Code()))
}

// SetActive activates or deactivates a user
func (r *UserRepository) SetActive(ctx context.Context, userID int64, active bool) error {
	query := `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, userID, active)
}

// SetPassword replaces the password hash and the must-change flag
func (r *UserRepository) SetPassword(ctx context.Context, userID int64, hash string, mustChange bool) error {
	query := `UPDATE users SET password_hash = $2, must_change_password = $3, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, userID, hash, mustChange)
}

// DeleteUser permanently removes a user. Activity records keep their rows with a null actor.
func (r *UserRepository) DeleteUser(ctx context.Context, userID int64) error {
	return r.execOne(ctx, `DELETE FROM users WHERE id = $1`, userID)
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers retrieves a paginated list of users with the total count
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	users, err := r.queryUsers(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ListUsersByRole returns the active users holding role
func (r *UserRepository) ListUsersByRole(ctx context.Context, role auth.Role) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = $1 AND is_active = TRUE ORDER BY name`
	return r.queryUsers(ctx, query, int64(role.Code()))
}

func (r *UserRepository) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Stats returns total, active, inactive and employee (role holder) counts
func (r *UserRepository) Stats(ctx context.Context) (*models.UserStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_active),
		       COUNT(*) FILTER (WHERE NOT is_active),
		       COUNT(*) FILTER (WHERE role IS NOT NULL)
		FROM users
	`
	stats := &models.UserStats{}
	err := r.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Active, &stats.Inactive, &stats.Employees)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CountByRole returns the number of active users per role. Roles with no holders are
// reported with a zero count.
func (r *UserRepository) CountByRole(ctx context.Context) ([]models.RoleCount, error) {
	query := `SELECT role, COUNT(*) FROM users WHERE role IS NOT NULL AND is_active = TRUE GROUP BY role`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[auth.Role]int)
	for rows.Next() {
		var code int64
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		role, err := auth.RoleFromCode(int(code))
		if err != nil {
			return nil, err
		}
		counts[role] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.RoleCount, 0, len(auth.AllRoles()))
	for _, role := range auth.AllRoles() {
		out = append(out, models.RoleCount{Role: role, Label: role.Label(), Count: counts[role]})
	}
	return out, nil
}
