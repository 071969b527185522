package workflow

import (
	"sort"
	"strings"
)

// Registry holds the known workers with case-insensitive ID lookup.
// Registration order is preserved for listing.
type Registry struct {
	byKey map[string]Worker
	order []string
}

func NewRegistry(workers ...Worker) *Registry {
	r := &Registry{byKey: make(map[string]Worker)}
	for _, w := range workers {
		r.Add(w)
	}
	return r
}

// Add registers a worker. Re-registering the same ID (any casing)
// replaces the entry in place.
func (r *Registry) Add(w Worker) {
	if strings.TrimSpace(w.ID) == "" {
		return
	}
	key := registryKey(w.ID)
	if _, exists := r.byKey[key]; !exists {
		r.order = append(r.order, key)
	}
	r.byKey[key] = w
}

// Lookup resolves a worker by ID, ignoring case and surrounding space.
func (r *Registry) Lookup(id string) (Worker, bool) {
	w, ok := r.byKey[registryKey(id)]
	return w, ok
}

// Workers returns all workers in registration order.
func (r *Registry) Workers() []Worker {
	out := make([]Worker, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}

// IDs returns the canonical worker IDs, sorted for stable output.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.byKey))
	for _, w := range r.byKey {
		out = append(out, w.ID)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int { return len(r.byKey) }

func registryKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
