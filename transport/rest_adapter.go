package transport

import (
	"encoding/json"
	"net/http"

	"github.com/goliatone/go-integrations/core"
)

const KindREST = "rest"

const contentTypeJSON = "application/json"

// RESTAdapter renders JSON envelopes. Entry data stays off the wire
// unless IncludeEntryData is set, and even then sensitive keys render
// redacted.
type RESTAdapter struct {
	IncludeEntryData bool

	// SchemaLookup resolves the declared entry schema for a domain so
	// redaction honors Sensitive field flags, not just key names. Nil
	// lookups and unknown domains fall back to the name heuristics.
	SchemaLookup func(domain string) *core.DataSchema
}

func NewRESTAdapter() *RESTAdapter {
	return &RESTAdapter{}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) RenderFlowResult(result *core.FlowResult) (Envelope, error) {
	if a == nil {
		return Envelope{}, internalFault(nil, "transport: rest adapter is nil", map[string]any{"adapter": KindREST})
	}
	if result == nil {
		return Envelope{}, badRequest("transport: flow result is required", map[string]any{"adapter": KindREST})
	}

	payload := *result
	if len(payload.Data) > 0 {
		payload.Data = core.RedactForSchema(a.schemaFor(result.Domain), payload.Data)
	}
	body, err := json.Marshal(&payload)
	if err != nil {
		return Envelope{}, internalFault(err, "transport: encode flow result",
			map[string]any{"adapter": KindREST, "flow_id": result.FlowID})
	}
	return Envelope{
		StatusCode:  http.StatusOK,
		ContentType: contentTypeJSON,
		Body:        body,
	}, nil
}

func (a *RESTAdapter) RenderEntry(entry *core.Entry) (Envelope, error) {
	if a == nil {
		return Envelope{}, internalFault(nil, "transport: rest adapter is nil", map[string]any{"adapter": KindREST})
	}
	if entry == nil {
		return Envelope{}, badRequest("transport: entry is required", map[string]any{"adapter": KindREST})
	}
	body, err := json.Marshal(a.entryPayload(entry))
	if err != nil {
		return Envelope{}, internalFault(err, "transport: encode entry",
			map[string]any{"adapter": KindREST, "entry_id": entry.EntryID})
	}
	return Envelope{
		StatusCode:  http.StatusOK,
		ContentType: contentTypeJSON,
		Body:        body,
	}, nil
}

func (a *RESTAdapter) RenderEntries(entries []*core.Entry) (Envelope, error) {
	if a == nil {
		return Envelope{}, internalFault(nil, "transport: rest adapter is nil", map[string]any{"adapter": KindREST})
	}
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		payloads = append(payloads, a.entryPayload(entry))
	}
	body, err := json.Marshal(payloads)
	if err != nil {
		return Envelope{}, internalFault(err, "transport: encode entries", map[string]any{"adapter": KindREST})
	}
	return Envelope{
		StatusCode:  http.StatusOK,
		ContentType: contentTypeJSON,
		Body:        body,
	}, nil
}

// RenderError maps any error through the integration envelope; the
// status code comes from the envelope's category table.
func (a *RESTAdapter) RenderError(err error) Envelope {
	rich := core.MapToIntegrationError(err)
	if rich == nil {
		rich = core.MapToIntegrationError(
			internalFault(nil, "transport: render error called without an error", nil),
		)
	}
	status := rich.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := errorBody{Error: errorPayload{
		Category: string(rich.Category),
		Code:     status,
		TextCode: rich.TextCode,
		Message:  rich.Message,
	}}
	for _, validation := range rich.AllValidationErrors() {
		payload.Error.Fields = append(payload.Error.Fields, fieldErrorPayload{
			Field:   validation.Field,
			Message: validation.Message,
		})
	}

	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		body = []byte(`{"error":{"category":"internal","code":500,"text_code":"` +
			core.IntegrationErrorInternal + `","message":"encode error envelope failed"}}`)
		status = http.StatusInternalServerError
	}
	return Envelope{
		StatusCode:  status,
		ContentType: contentTypeJSON,
		Body:        body,
	}
}

func (a *RESTAdapter) entryPayload(entry *core.Entry) entryPayload {
	payload := entryPayload{
		EntryID: entry.EntryID,
		Domain:  entry.Domain,
		Title:   entry.Title,
		Source:  entry.Source,
		State:   entry.State,
		Version: entry.Version,
	}
	if a != nil && a.IncludeEntryData && len(entry.Data) > 0 {
		payload.Data = core.RedactForSchema(a.schemaFor(entry.Domain), entry.Data)
	}
	return payload
}

func (a *RESTAdapter) schemaFor(domain string) *core.DataSchema {
	if a == nil || a.SchemaLookup == nil {
		return nil
	}
	return a.SchemaLookup(domain)
}

// SchemaLookupFromRegistry resolves a domain's declared schema through its
// registered flow handler, the usual wiring for SchemaLookup.
func SchemaLookupFromRegistry(registry core.Registry) func(domain string) *core.DataSchema {
	return func(domain string) *core.DataSchema {
		if registry == nil {
			return nil
		}
		factory, ok := registry.Lookup(domain)
		if !ok || factory == nil {
			return nil
		}
		handler := factory()
		if handler == nil {
			return nil
		}
		return handler.Schema()
	}
}

type entryPayload struct {
	EntryID string          `json:"entry_id"`
	Domain  string          `json:"domain"`
	Title   string          `json:"title"`
	Source  core.Source     `json:"source"`
	State   core.EntryState `json:"state"`
	Version int             `json:"version"`
	Data    map[string]any  `json:"data,omitempty"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Category string              `json:"category"`
	Code     int                 `json:"code"`
	TextCode string              `json:"text_code"`
	Message  string              `json:"message"`
	Fields   []fieldErrorPayload `json:"fields,omitempty"`
}

type fieldErrorPayload struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var _ Adapter = (*RESTAdapter)(nil)
