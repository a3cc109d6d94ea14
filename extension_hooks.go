package integrations

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-integrations/components"
	"github.com/goliatone/go-integrations/core"
)

// HandlerPack is a named bundle of integration packs a downstream module
// contributes before the service is built.
type HandlerPack struct {
	Name  string
	Packs []components.Pack
}

// ListenerPack is a named bundle of entry lifecycle listeners, typically
// audit or metrics taps owned by the host.
type ListenerPack struct {
	Name      string
	Listeners []core.EntryListener
}

type CommandQueryBundleFactory func(service *core.Service) (any, error)

// ExtensionHooks collects downstream contributions so hosts can compose
// integrations from several modules without touching construction order.
type ExtensionHooks struct {
	mu sync.RWMutex

	handlerPacks  map[string]HandlerPack
	listenerPacks map[string]ListenerPack
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		handlerPacks:  map[string]HandlerPack{},
		listenerPacks: map[string]ListenerPack{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

// storeOnce inserts value under name while holding mu, rejecting duplicate
// registrations by kind and name.
func storeOnce[V any](mu *sync.RWMutex, table map[string]V, kind, name string, value V) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := table[name]; exists {
		return fmt.Errorf("integrations: %s %q already registered", kind, name)
	}
	table[name] = value
	return nil
}

func (h *ExtensionHooks) RegisterHandlerPack(pack HandlerPack) error {
	if h == nil {
		return fmt.Errorf("integrations: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("integrations: handler pack name is required")
	}
	if len(pack.Packs) == 0 {
		return fmt.Errorf("integrations: handler pack %q has no integration packs", name)
	}
	for _, integration := range pack.Packs {
		if err := integration.Validate(); err != nil {
			return fmt.Errorf("integrations: handler pack %q: %w", name, err)
		}
	}

	normalized := HandlerPack{
		Name:  name,
		Packs: slices.Clone(pack.Packs),
	}
	return storeOnce(&h.mu, h.handlerPacks, "handler pack", name, normalized)
}

func (h *ExtensionHooks) RegisterListenerPack(pack ListenerPack) error {
	if h == nil {
		return fmt.Errorf("integrations: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("integrations: listener pack name is required")
	}
	if len(pack.Listeners) == 0 {
		return fmt.Errorf("integrations: listener pack %q has no listeners", name)
	}

	normalized := ListenerPack{
		Name:      name,
		Listeners: slices.Clone(pack.Listeners),
	}
	return storeOnce(&h.mu, h.listenerPacks, "listener pack", name, normalized)
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("integrations: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("integrations: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("integrations: command/query bundle %q factory is required", name)
	}
	return storeOnce(&h.mu, h.bundles, "command/query bundle", name, factory)
}

// ApplyHandlerPacks registers every contributed integration's flow handler,
// in deterministic pack order.
func (h *ExtensionHooks) ApplyHandlerPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("integrations: registry is required")
	}

	for _, pack := range h.HandlerPacks() {
		for _, integration := range pack.Packs {
			if err := integration.Register(registry); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddToLoader contributes every pack to a static loader so its domains load
// on demand instead of registering eagerly.
func (h *ExtensionHooks) AddToLoader(loader *components.StaticLoader) error {
	if h == nil {
		return nil
	}
	if loader == nil {
		return fmt.Errorf("integrations: component loader is required")
	}

	for _, pack := range h.HandlerPacks() {
		for _, integration := range pack.Packs {
			if err := loader.Add(integration); err != nil {
				return err
			}
		}
	}
	return nil
}

// ServiceOptions turns the listener packs into service construction options,
// in deterministic pack order.
func (h *ExtensionHooks) ServiceOptions() []core.Option {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	packs := maps.Clone(h.listenerPacks)
	h.mu.RUnlock()

	options := []core.Option{}
	for _, name := range slices.Sorted(maps.Keys(packs)) {
		for _, listener := range packs[name].Listeners {
			if listener == nil {
				continue
			}
			options = append(options, core.WithEntryListener(listener))
		}
	}
	return options
}

func (h *ExtensionHooks) BuildCommandQueryBundles(service *core.Service) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("integrations: entry service is required")
	}

	h.mu.RLock()
	factories := maps.Clone(h.bundles)
	h.mu.RUnlock()

	result := make(map[string]any, len(factories))
	for _, name := range slices.Sorted(maps.Keys(factories)) {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) HandlerPacks() []HandlerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HandlerPack, 0, len(h.handlerPacks))
	for _, name := range slices.Sorted(maps.Keys(h.handlerPacks)) {
		pack := h.handlerPacks[name]
		out = append(out, HandlerPack{
			Name:  pack.Name,
			Packs: slices.Clone(pack.Packs),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.bundles))
}
