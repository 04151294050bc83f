package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Factory opens a Backend from a driver specific DSN.
type Factory func(ctx context.Context, dsn string, log zerolog.Logger) (Backend, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend factory under name. Backends call it from init.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("store: empty driver name")
	}
	if f == nil {
		return fmt.Errorf("store: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("store: driver %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve gets a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Drivers lists registered driver names in sorted order.
func Drivers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Open opens the backend registered as driver. An empty driver returns a nil
// Backend and no error: user state persistence is switched off.
func Open(ctx context.Context, driver, dsn string, log zerolog.Logger) (Backend, error) {
	if driver == "" {
		return nil, nil
	}
	f, ok := Resolve(driver)
	if !ok {
		return nil, fmt.Errorf("store: unknown driver %q (registered: %v)", driver, Drivers())
	}
	b, err := f(ctx, dsn, log)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	return b, nil
}
