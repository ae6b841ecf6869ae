package repositories

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned by write operations whose target row does not exist.
// Lookups return (nil, nil) instead.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint
var ErrDuplicate = errors.New("already exists")

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
