package plugin

import "fmt"

// Registry holds every plugin available to the gateway, keyed by its
// "<resourceType>:<provider>" ID. It is built once at startup and never
// mutated afterward, the same process-wide, read-after-init-only shape as
// pkg/messaging.Registry.
type Registry struct {
	plugins map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin under its own ID. It panics on a duplicate ID,
// since that can only happen from a programming error at startup wiring,
// never from runtime input.
func (r *Registry) Register(p Plugin) {
	if _, exists := r.plugins[p.ID()]; exists {
		panic(fmt.Sprintf("plugin: duplicate registration for %q", p.ID()))
	}
	r.plugins[p.ID()] = p
}

// Get returns the plugin registered for id ("<resourceType>:<provider>").
func (r *Registry) Get(id string) (Plugin, error) {
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("plugin: %q not registered", id)
	}
	return p, nil
}

// All returns every registered plugin.
func (r *Registry) All() []Plugin {
	result := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		result = append(result, p)
	}
	return result
}
