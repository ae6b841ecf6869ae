package storage

import (
	"fmt"

	"github.com/opsconsole/opsconsole/internal/config"
)

// FactoryFunc builds a backend from the application configuration
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory under name
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewStorage creates the backend selected by storage.backend
func NewStorage(cfg *config.Config) (Storage, error) {
	factory, ok := factories[cfg.Storage.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %q (must be 'local', 'azure', 's3', or 'gcs')", cfg.Storage.Backend)
	}

	return factory(cfg)
}
