package components

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-integrations/core"
)

// Pack bundles what a host mounts for one integration: the domain, the
// flow handler factory, and a builder for the runtime component.
type Pack struct {
	Domain  string
	Factory core.HandlerFactory
	Build   func() core.Component
}

func (p Pack) Validate() error {
	if strings.TrimSpace(p.Domain) == "" {
		return fmt.Errorf("components: pack domain is required")
	}
	if p.Factory == nil {
		return fmt.Errorf("components: pack %q needs a handler factory", p.Domain)
	}
	if p.Build == nil {
		return fmt.Errorf("components: pack %q needs a component builder", p.Domain)
	}
	return nil
}

// Register installs the pack's flow handler into the registry.
func (p Pack) Register(registry core.Registry) error {
	if registry == nil {
		return fmt.Errorf("components: registry is required")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return registry.Register(strings.TrimSpace(p.Domain), p.Factory)
}

// StaticLoader serves components from a fixed pack set. Load registers the
// pack's flow handler as a side effect, standing in for the import side
// effects of dynamically loaded integration code. Components are built once
// per domain and reused.
type StaticLoader struct {
	registry core.Registry

	mu    sync.Mutex
	packs map[string]Pack
	built map[string]core.Component
}

func NewStaticLoader(registry core.Registry, packs ...Pack) (*StaticLoader, error) {
	if registry == nil {
		return nil, fmt.Errorf("components: registry is required")
	}
	loader := &StaticLoader{
		registry: registry,
		packs:    make(map[string]Pack, len(packs)),
		built:    map[string]core.Component{},
	}
	for _, pack := range packs {
		if err := loader.Add(pack); err != nil {
			return nil, err
		}
	}
	return loader, nil
}

func (l *StaticLoader) Add(pack Pack) error {
	if l == nil {
		return fmt.Errorf("components: loader is nil")
	}
	if err := pack.Validate(); err != nil {
		return err
	}
	domain := strings.TrimSpace(pack.Domain)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.packs[domain]; exists {
		return fmt.Errorf("components: pack %q already added", domain)
	}
	l.packs[domain] = pack
	return nil
}

func (l *StaticLoader) Load(_ context.Context, domain string) (core.Component, error) {
	if l == nil {
		return nil, fmt.Errorf("components: loader is nil")
	}
	domain = strings.TrimSpace(domain)

	l.mu.Lock()
	pack, ok := l.packs[domain]
	component := l.built[domain]
	l.mu.Unlock()
	if !ok {
		return nil, core.NewUnknownHandlerError(domain)
	}

	if err := pack.Register(l.registry); err != nil {
		return nil, err
	}
	if component != nil {
		return component, nil
	}

	component = pack.Build()
	if component == nil {
		return nil, fmt.Errorf("components: pack %q built a nil component", domain)
	}
	l.mu.Lock()
	// A concurrent Load may have built first; keep the stored one.
	if existing := l.built[domain]; existing != nil {
		component = existing
	} else {
		l.built[domain] = component
	}
	l.mu.Unlock()
	return component, nil
}

func (l *StaticLoader) Domains() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	domains := make([]string, 0, len(l.packs))
	for domain := range l.packs {
		domains = append(domains, domain)
	}
	l.mu.Unlock()
	sort.Strings(domains)
	return domains
}

var _ core.ComponentLoader = (*StaticLoader)(nil)
