package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// OpenFunc constructs a Store for one backend.
type OpenFunc func(ctx context.Context, cfg *config.DatabaseConfig) (Store, error)

var (
	backends   = make(map[string]OpenFunc)
	backendsMu sync.RWMutex
)

// Register makes a backend available under driver.
// This is called from the backend packages' init to avoid import cycles.
func Register(driver string, open OpenFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if open == nil {
		panic("database: Register open func is nil")
	}
	if _, dup := backends[driver]; dup {
		panic("database: Register called twice for driver " + driver)
	}
	backends[driver] = open
}

// Drivers returns the registered backend names.
func Drivers() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open returns a Store from the backend named by cfg.Driver.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Store, error) {
	backendsMu.RLock()
	open, ok := backends[cfg.Driver]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (registered: %v)", cfg.Driver, Drivers())
	}
	store, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Driver, err)
	}
	return store, nil
}
