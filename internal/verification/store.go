// Package verification issues short-lived, single-use codes bound to a destination (an email
// address or phone number). Codes live in an injected CodeStore so that every instance of the
// console can share them when Redis is configured.
package verification

import (
	"context"
	"crypto/subtle"
	"time"
)

// CodeStore holds at most one live code per destination
type CodeStore interface {
	// Put stores code for destination, replacing any previous code, and expires it after ttl
	Put(ctx context.Context, destination, code string, ttl time.Duration) error

	// Consume reports whether code is the live code for destination. A match removes the code
	// so it can never be used again; a mismatch leaves it in place.
	Consume(ctx context.Context, destination, code string) (bool, error)
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
