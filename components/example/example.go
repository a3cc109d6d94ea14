// Package example ships the reference integration. It exercises every flow
// path the orchestrator supports: a form driven user flow, a direct
// discovery flow, entry setup with an induced failure hook, and unload.
package example

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-integrations/components"
	"github.com/goliatone/go-integrations/core"
)

const (
	Domain         = "example"
	HandlerVersion = 1

	// AbortReasonInvalidDiscovery is returned when an announcement payload
	// carries no usable host.
	AbortReasonInvalidDiscovery = "invalid_discovery_info"

	// Marker keys recognized in entry data. fail_setup makes SetupEntry
	// report failure; fail_connect makes the user step re-show the form.
	KeyFailSetup   = "fail_setup"
	KeyFailConnect = "fail_connect"

	defaultPort = 80
)

func entrySchema() *core.DataSchema {
	return core.NewDataSchema(
		core.FieldSpec{Name: "host", Type: core.FieldTypeString, Required: true},
		core.FieldSpec{Name: "port", Type: core.FieldTypeInt, Default: defaultPort},
		core.FieldSpec{Name: "api_key", Type: core.FieldTypeString, Sensitive: true},
		core.FieldSpec{Name: KeyFailSetup, Type: core.FieldTypeBool, Description: "make entry setup fail"},
		core.FieldSpec{Name: KeyFailConnect, Type: core.FieldTypeBool, Description: "make the user step reject the host"},
	)
}

// Handler drives the example configuration flows.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (*Handler) Version() int {
	return HandlerVersion
}

func (*Handler) Schema() *core.DataSchema {
	return entrySchema()
}

func (h *Handler) Steps() map[string]core.StepFunc {
	return map[string]core.StepFunc{
		core.StepInit: h.stepInit,
		"user":        h.stepUser,
		"discovery":   h.stepDiscovery,
	}
}

func (h *Handler) stepInit(_ context.Context, fctx *core.FlowContext, _ map[string]any) (core.StepResult, error) {
	return fctx.ShowForm("Example", "user", entrySchema(), nil), nil
}

func (h *Handler) stepUser(_ context.Context, fctx *core.FlowContext, input map[string]any) (core.StepResult, error) {
	host := stringValue(input, "host")
	if host == "" {
		return fctx.ShowForm("Example", "user", entrySchema(), map[string]string{
			"host": "host_required",
		}), nil
	}
	if truthy(input[KeyFailConnect]) {
		return fctx.ShowForm("Example", "user", entrySchema(), map[string]string{
			"host": "cannot_connect",
		}), nil
	}
	return fctx.CreateEntry(entryTitle(host), input), nil
}

func (h *Handler) stepDiscovery(_ context.Context, fctx *core.FlowContext, input map[string]any) (core.StepResult, error) {
	host := stringValue(input, "host")
	if host == "" {
		return fctx.AbortFlow(AbortReasonInvalidDiscovery), nil
	}
	data := map[string]any{"host": host, "port": defaultPort}
	if port, ok := input["port"]; ok {
		data["port"] = port
	}
	if key := stringValue(input, "api_key"); key != "" {
		data["api_key"] = key
	}
	return fctx.CreateEntry(entryTitle(host), data), nil
}

// Component is the example runtime. It records which entries were set up
// and unloaded so hosts and tests can observe lifecycle behavior.
type Component struct {
	mu       sync.Mutex
	setUp    map[string]int
	unloaded map[string]int
}

func NewComponent() *Component {
	return &Component{
		setUp:    map[string]int{},
		unloaded: map[string]int{},
	}
}

func (c *Component) SetupEntry(_ context.Context, entry *core.Entry) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("example: entry is required")
	}
	if truthy(entry.Data[KeyFailSetup]) {
		return false, fmt.Errorf("example: setup failed for entry %s", entry.EntryID)
	}
	c.mu.Lock()
	c.setUp[entry.EntryID]++
	c.mu.Unlock()
	return true, nil
}

func (c *Component) UnloadEntry(_ context.Context, entry *core.Entry) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("example: entry is required")
	}
	c.mu.Lock()
	c.unloaded[entry.EntryID]++
	c.mu.Unlock()
	return true, nil
}

// SetupCount reports how many times SetupEntry succeeded for an entry.
func (c *Component) SetupCount(entryID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setUp[entryID]
}

// UnloadCount reports how many times UnloadEntry ran for an entry.
func (c *Component) UnloadCount(entryID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unloaded[entryID]
}

// Register installs the example flow handler into the registry.
func Register(registry core.Registry) error {
	return Pack().Register(registry)
}

// Pack bundles the example integration for a component loader.
func Pack() components.Pack {
	return components.Pack{
		Domain:  Domain,
		Factory: func() core.Handler { return NewHandler() },
		Build:   func() core.Component { return NewComponent() },
	}
}

func entryTitle(host string) string {
	return fmt.Sprintf("Example (%s)", host)
}

func stringValue(input map[string]any, key string) string {
	if len(input) == 0 {
		return ""
	}
	raw, ok := input[key]
	if !ok || raw == nil {
		return ""
	}
	value, ok := raw.(string)
	if !ok {
		return strings.TrimSpace(fmt.Sprint(raw))
	}
	return strings.TrimSpace(value)
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return typed == "true" || typed == "1" || typed == "yes"
	case int:
		return typed != 0
	case float64:
		return typed != 0
	default:
		return false
	}
}

var (
	_ core.Handler       = (*Handler)(nil)
	_ core.Component     = (*Component)(nil)
	_ core.EntryUnloader = (*Component)(nil)
)
