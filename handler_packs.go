package integrations

import (
	"github.com/goliatone/go-integrations/components"
	"github.com/goliatone/go-integrations/components/example"
	"github.com/goliatone/go-integrations/core"
)

// Pack is the unit of integration packaging: one domain's flow handler
// factory plus its runtime component builder.
type Pack = components.Pack

// StaticLoader is the pack backed component loader.
type StaticLoader = components.StaticLoader

// BuiltinPacks returns every integration pack that ships with the module.
func BuiltinPacks() []components.Pack {
	return []components.Pack{
		example.Pack(),
	}
}

// ExamplePack returns the reference integration's pack.
func ExamplePack() components.Pack {
	return example.Pack()
}

// RegisterExample registers the reference integration's flow handler.
func RegisterExample(registry core.Registry) error {
	return example.Register(registry)
}

// NewStaticLoader builds a loader over the given packs. Domains load and
// register their handlers on first use.
func NewStaticLoader(registry core.Registry, packs ...components.Pack) (*components.StaticLoader, error) {
	return components.NewStaticLoader(registry, packs...)
}
