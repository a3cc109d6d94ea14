package transport

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const KindNoop = "noop"

// NoopAdapter stands in for a surface the host left unconfigured. Render
// calls fail with an explanation; RenderError still produces a sendable
// envelope so error paths never dead end.
type NoopAdapter struct {
	kind   string
	reason string
	rest   RESTAdapter
}

func NewNoopAdapter(kind string, reason string) *NoopAdapter {
	kind = strings.TrimSpace(strings.ToLower(kind))
	if kind == "" {
		kind = KindNoop
	}
	return &NoopAdapter{
		kind:   kind,
		reason: strings.TrimSpace(reason),
	}
}

func (a *NoopAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *NoopAdapter) RenderFlowResult(*core.FlowResult) (Envelope, error) {
	return Envelope{}, a.unconfigured()
}

func (a *NoopAdapter) RenderEntry(*core.Entry) (Envelope, error) {
	return Envelope{}, a.unconfigured()
}

func (a *NoopAdapter) RenderEntries([]*core.Entry) (Envelope, error) {
	return Envelope{}, a.unconfigured()
}

func (a *NoopAdapter) RenderError(err error) Envelope {
	if err == nil {
		err = a.unconfigured()
	}
	if a == nil {
		return (&RESTAdapter{}).RenderError(err)
	}
	return a.rest.RenderError(err)
}

func (a *NoopAdapter) unconfigured() error {
	if a == nil {
		return fmt.Errorf("transport: adapter is nil")
	}
	message := fmt.Sprintf("transport: %s adapter is not configured", a.kind)
	if a.reason != "" {
		message = fmt.Sprintf("%s: %s", message, a.reason)
	}
	return notImplemented(message, map[string]any{"adapter": a.kind})
}

var _ Adapter = (*NoopAdapter)(nil)
