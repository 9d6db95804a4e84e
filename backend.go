package xp

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

//////
// Const, vars, types.
//////

// DefaultBackend is used when an experiment does not select one.
const DefaultBackend = "json"

// Backend persists and retrieves the Observations of one experiment
// directory.
type Backend interface {
	// Name is the registry name the backend is selected by.
	Name() string

	// Save durably persists obs. A crash mid-write must never leave a
	// partial record visible to LoadAll.
	Save(ctx context.Context, obs *Observation) error

	// LoadAll returns every saved Observation in a stable order. An empty
	// store yields an empty slice.
	LoadAll(ctx context.Context) ([]*Observation, error)

	// IdentifierExists reports whether an Observation with id was saved.
	IdentifierExists(ctx context.Context, id string) (bool, error)

	// CoreFiles lists the paths, relative to the experiment directory,
	// owned by the backend.
	CoreFiles() []string
}

// BackendFactory builds a backend bound to an experiment directory. It must
// not touch the filesystem: storage problems surface at first use.
type BackendFactory func(dir string) (Backend, error)

var (
	backends   = map[string]BackendFactory{}
	backendsMu sync.RWMutex

	builtinBackends = map[string]BackendFactory{
		"json": func(dir string) (Backend, error) { return NewJSONBackend(dir), nil },
		"yaml": func(dir string) (Backend, error) { return NewYAMLBackend(dir), nil },
	}
)

//////
// Exported functionalities.
//////

// RegisterBackend adds or replaces a named backend in the process registry.
// Registering a built-in name ("json", "yaml") overrides it.
func RegisterBackend(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	backends[name] = factory
}

// NewBackend instantiates the backend registered under name for dir.
func NewBackend(name, dir string) (Backend, error) {
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()

	if !ok {
		factory, ok = builtinBackends[name]
	}

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Backends())
	}

	return factory(dir)
}

// Backends lists every resolvable backend name, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	seen := make(map[string]bool, len(backends)+len(builtinBackends))
	for name := range builtinBackends {
		seen[name] = true
	}

	for name := range backends {
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
