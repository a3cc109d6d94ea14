package transport

import "github.com/goliatone/go-integrations/core"

// Envelope is a rendered wire payload. The subsystem ships no server;
// embedding hosts write the envelope out on whatever listener they own.
type Envelope struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Adapter renders flow results, entries, and error envelopes for one
// protocol. RenderError never fails; a broken error path must still
// produce something a host can send.
type Adapter interface {
	Kind() string
	RenderFlowResult(result *core.FlowResult) (Envelope, error)
	RenderEntry(entry *core.Entry) (Envelope, error)
	RenderEntries(entries []*core.Entry) (Envelope, error)
	RenderError(err error) Envelope
}
