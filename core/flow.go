package core

import "context"

type StepResultKind string

const (
	StepResultForm        StepResultKind = "form"
	StepResultCreateEntry StepResultKind = "create_entry"
	StepResultAbort       StepResultKind = "abort"
)

func (k StepResultKind) IsValid() bool {
	switch k {
	case StepResultForm, StepResultCreateEntry, StepResultAbort:
		return true
	}
	return false
}

// StepResult is the closed set of outcomes a step may produce. Which fields
// are meaningful depends on Kind: form carries StepID/Schema/Title/Errors,
// create_entry carries Title/Data, abort carries Reason.
type StepResult struct {
	Kind        StepResultKind
	StepID      string
	Schema      *DataSchema
	Title       string
	Errors      map[string]string
	Description map[string]any
	Data        map[string]any
	Reason      string
}

// FlowContext carries the identity bound to a flow at start time. It is
// constructed once by the manager and threaded through every step call; steps
// build their results through its helpers.
type FlowContext struct {
	FlowID string
	Domain string
	Source Source
}

// ShowForm keeps the flow alive and asks the caller to collect input for the
// named step, optionally validated against schema on the next configure call.
func (c *FlowContext) ShowForm(title, stepID string, schema *DataSchema, errs map[string]string) StepResult {
	return StepResult{
		Kind:   StepResultForm,
		StepID: stepID,
		Schema: schema,
		Title:  title,
		Errors: errs,
	}
}

// CreateEntry terminates the flow and produces a new configuration entry with
// the given title and data.
func (c *FlowContext) CreateEntry(title string, data map[string]any) StepResult {
	return StepResult{
		Kind:  StepResultCreateEntry,
		Title: title,
		Data:  cloneAnyMap(data),
	}
}

// AbortFlow terminates the flow with a reason code. This is the expected path
// for declined or impossible configuration, not an error.
func (c *FlowContext) AbortFlow(reason string) StepResult {
	return StepResult{
		Kind:   StepResultAbort,
		Reason: reason,
	}
}

// StepFunc is one named step of a flow handler. Input is the caller supplied
// data, already validated against the step schema when one was declared.
type StepFunc func(ctx context.Context, fctx *FlowContext, input map[string]any) (StepResult, error)

// FlowResult is the caller facing outcome of an init or configure call: the
// step result plus the identity of the flow that produced it. EntryID is set
// only for create_entry results.
type FlowResult struct {
	Kind        StepResultKind    `json:"type"`
	FlowID      string            `json:"flow_id"`
	Domain      string            `json:"domain"`
	Source      Source            `json:"source"`
	StepID      string            `json:"step_id,omitempty"`
	Schema      *DataSchema       `json:"data_schema,omitempty"`
	Title       string            `json:"title,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
	Description map[string]any    `json:"description_placeholders,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	EntryID     string            `json:"entry_id,omitempty"`
}
