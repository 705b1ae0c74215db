package adapter

import (
	"fmt"
	"sync"

	"github.com/phobos-lrs/lrs/internal/resource"
)

// Registry resolves a resource family to its capability Bundle, selected
// at runtime the way the teacher's internal/backend detect.go picks a
// Backend implementation by probing declared families rather than
// compiling one binary per family.
type Registry struct {
	mu       sync.RWMutex
	bundles  map[resource.Family]Bundle
}

// NewRegistry returns an empty registry; call Register for each family
// the running process supports.
func NewRegistry() *Registry {
	return &Registry{bundles: make(map[resource.Family]Bundle)}
}

// Register binds a family to its capability bundle. Re-registering a
// family replaces the previous bundle; callers normally do this once at
// startup from cmd/phobosd's wiring.
func (r *Registry) Register(family resource.Family, b Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles[family] = b
}

// Lookup returns the bundle registered for family.
func (r *Registry) Lookup(family resource.Family) (Bundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[family]
	if !ok {
		return Bundle{}, fmt.Errorf("adapter: no bundle registered for family %q", family)
	}
	return b, nil
}

// Families lists every family currently registered.
func (r *Registry) Families() []resource.Family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]resource.Family, 0, len(r.bundles))
	for f := range r.bundles {
		out = append(out, f)
	}
	return out
}
