package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

// DefaultDriver is used when neither an explicit kind nor the location
// selects a driver.
const DefaultDriver = "duckdb"

// Registry maps driver names to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

var defaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Default returns the process wide registry drivers register into.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a driver to the default registry. It panics on a duplicate
// name, like database/sql.Register.
func Register(d Driver) {
	if err := defaultRegistry.Register(d); err != nil {
		panic(err)
	}
}

// Resolve selects a driver from the default registry.
func Resolve(location, kind string) (Driver, error) {
	return defaultRegistry.Resolve(location, kind)
}

// Register adds d.
func (r *Registry) Register(d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[d.Name()]; exists {
		return plexerrors.New(plexerrors.ErrorTypeConfig, fmt.Sprintf("engine %s already registered", d.Name()))
	}
	r.drivers[d.Name()] = d
	return nil
}

// Lookup returns the driver registered under name.
func (r *Registry) Lookup(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	return d, ok
}

// Names lists the registered driver names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the driver named kind, or when kind is empty the first
// driver in name order that accepts location, falling back to
// DefaultDriver.
func (r *Registry) Resolve(location, kind string) (Driver, error) {
	if kind != "" {
		d, ok := r.Lookup(kind)
		if !ok {
			return nil, plexerrors.Newf(plexerrors.ErrorTypeConfig, "unknown engine %q (available: %v)", kind, r.Names())
		}
		return d, nil
	}
	for _, name := range r.Names() {
		d, _ := r.Lookup(name)
		if d.Accepts(location) {
			return d, nil
		}
	}
	if d, ok := r.Lookup(DefaultDriver); ok {
		return d, nil
	}
	return nil, plexerrors.Newf(plexerrors.ErrorTypeConfig, "no engine accepts %q", location)
}
