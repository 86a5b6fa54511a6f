package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// Registry manages backend plugin registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// DefaultRegistry creates a registry with all built-in backends,
// skipping any the configuration disables.
func DefaultRegistry(cfg *types.Config) *Registry {
	r := NewRegistry()
	for _, p := range []Plugin{NewClaude(), NewGemini()} {
		if cfg != nil {
			if bc, ok := cfg.Backend[p.ID()]; ok && bc.Disable {
				continue
			}
		}
		r.Register(p)
	}
	return r
}

// Register adds a plugin to the registry, replacing any existing plugin
// with the same ID.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.ID()] = p
}

// Get retrieves a plugin by backend kind.
func (r *Registry) Get(id string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	return p, nil
}

// IDs returns all registered backend kinds in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns descriptions of all registered backends in sorted order.
func (r *Registry) List() []types.BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]types.BackendInfo, 0, len(r.plugins))
	for _, p := range r.plugins {
		infos = append(infos, types.BackendInfo{
			ID:          p.ID(),
			Command:     p.Command(),
			Description: p.Description(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
