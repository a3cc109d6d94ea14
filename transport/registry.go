package transport

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// AdapterFactory builds an adapter on demand from host configuration.
type AdapterFactory func(config map[string]any) (Adapter, error)

// slot is one kind's owner: either a ready adapter or a factory.
// A kind has exactly one owner; a second registration is rejected.
type slot struct {
	ready   Adapter
	factory AdapterFactory
}

// Registry keeps the protocol adapters a host wired, keyed by kind.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]slot
}

func NewRegistry() *Registry {
	return &Registry{slots: map[string]slot{}}
}

// NewDefaultRegistry ships the rest adapter plus a noop factory for
// surfaces a host declares but leaves unconfigured.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	_ = registry.Register(NewRESTAdapter())
	_ = registry.RegisterFactory(KindNoop, defaultNoopFactory(KindNoop))
	return registry
}

// Register claims a kind for a ready adapter instance.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("transport: adapter is nil")
	}
	return r.claim(normalizeKind(adapter.Kind()), slot{ready: adapter})
}

// RegisterFactory claims a kind for on-demand construction via Build.
func (r *Registry) RegisterFactory(kind string, factory AdapterFactory) error {
	if factory == nil {
		return fmt.Errorf("transport: adapter factory is nil")
	}
	return r.claim(normalizeKind(kind), slot{factory: factory})
}

func (r *Registry) claim(kind string, owner slot) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if kind == "" {
		return fmt.Errorf("transport: adapter kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.slots[kind]; taken {
		return fmt.Errorf("transport: adapter kind %q already registered", kind)
	}
	r.slots[kind] = owner
	return nil
}

// Build resolves a kind to an adapter. Ready adapters are returned
// as-is; factory-backed kinds build a fresh adapter per call.
func (r *Registry) Build(kind string, config map[string]any) (Adapter, error) {
	if r == nil {
		return nil, fmt.Errorf("transport: registry is nil")
	}
	kind = normalizeKind(kind)
	if kind == "" {
		return nil, fmt.Errorf("transport: adapter kind is required")
	}

	r.mu.RLock()
	owner, ok := r.slots[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: no adapter registered for kind %q", kind)
	}
	if owner.ready != nil {
		return owner.ready, nil
	}

	built, err := owner.factory(cloneConfig(config))
	if err != nil {
		return nil, err
	}
	if built == nil {
		return nil, fmt.Errorf("transport: factory for kind %q produced no adapter", kind)
	}
	return built, nil
}

// Get returns a ready adapter. Factory-backed kinds need Build.
func (r *Registry) Get(kind string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.slots[normalizeKind(kind)]
	if !ok || owner.ready == nil {
		return nil, false
	}
	return owner.ready, true
}

// List returns the ready adapters in kind order. Factory-backed kinds
// have no instance until Build runs, so they are skipped.
func (r *Registry) List() []Adapter {
	if r == nil {
		return []Adapter{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	listed := make([]Adapter, 0, len(r.slots))
	for _, kind := range slices.Sorted(maps.Keys(r.slots)) {
		if ready := r.slots[kind].ready; ready != nil {
			listed = append(listed, ready)
		}
	}
	return listed
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}

func defaultNoopFactory(kind string) AdapterFactory {
	return func(config map[string]any) (Adapter, error) {
		reason := ""
		if raw, ok := config["reason"]; ok {
			reason = strings.TrimSpace(fmt.Sprint(raw))
		}
		return NewNoopAdapter(kind, reason), nil
	}
}

func cloneConfig(config map[string]any) map[string]any {
	cloned := make(map[string]any, len(config))
	maps.Copy(cloned, config)
	return cloned
}
