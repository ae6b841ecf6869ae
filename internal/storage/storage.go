// Package storage defines the object storage interface the activity archive writes through.
//
// Backends register themselves with the factory from an init() function in their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrExists is returned by Put when an object already exists at the key
	ErrExists = errors.New("object already exists")

	// ErrNotExist is returned by Get when no object exists at the key
	ErrNotExist = errors.New("object does not exist")
)

// Storage is a write-once object store. Archived activity is never overwritten, so Put
// refuses to replace an existing object instead of silently clobbering it.
type Storage interface {
	// Put stores size bytes from reader at key. It returns ErrExists if the key is taken.
	Put(ctx context.Context, key string, reader io.Reader, size int64) error

	// Get opens the object at key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether an object is stored at key
	Exists(ctx context.Context, key string) (bool, error)
}
