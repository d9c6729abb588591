package backend

import (
	"fmt"
)

// Registry is the explicit, compile-time mapping from backend name to its
// adapter instance. It is built once at process start; there is no runtime
// discovery.
type Registry struct {
	backends map[string]Backend
}

func NewRegistry(backends ...Backend) (*Registry, error) {
	byName := make(map[string]Backend, len(backends))
	for _, b := range backends {
		if b.Name() == "" {
			return nil, fmt.Errorf("backend with empty name")
		}
		if _, dup := byName[b.Name()]; dup {
			return nil, fmt.Errorf("duplicate backend %q", b.Name())
		}
		byName[b.Name()] = b
	}
	return &Registry{backends: byName}, nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return b, nil
}

// Names returns the registered backend names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}
