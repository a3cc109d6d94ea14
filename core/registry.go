package core

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// HandlerRegistry maps integration domains to flow handler factories. It is
// owned by the composition root and populated as a side effect of loading
// integration code; the orchestrator only reads from it.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{factories: make(map[string]HandlerFactory)}
}

// Register binds a factory to a domain. Re-registration replaces the previous
// factory so component reloads stay idempotent.
func (r *HandlerRegistry) Register(domain string, factory HandlerFactory) error {
	if factory == nil {
		return fmt.Errorf("core: handler factory is nil")
	}
	id := strings.TrimSpace(domain)
	if id == "" {
		return fmt.Errorf("core: handler domain is required")
	}
	r.mu.Lock()
	r.factories[id] = factory
	r.mu.Unlock()
	return nil
}

// Lookup is side effect free; loading integration code on a miss is the
// orchestrator's job, not the registry's.
func (r *HandlerRegistry) Lookup(domain string) (HandlerFactory, bool) {
	id := strings.TrimSpace(domain)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	return factory, ok
}

// Domains returns the registered domains in sorted order.
func (r *HandlerRegistry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
