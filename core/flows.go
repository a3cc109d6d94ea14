package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// flowState is one in-progress flow. The handler instance lives on through
// the step closures, so wizard state written by one step is visible to the
// next. The cursor starts at the source's initial step, which also makes a
// retried configure after a failed first step land on that same step.
type flowState struct {
	id        string
	domain    string
	source    Source
	version   int
	steps     map[string]StepFunc
	context   *FlowContext
	curStepID string
	curSchema *DataSchema
	startedAt time.Time
}

// FlowManager owns the set of in-progress flows and advances them one step
// at a time. Terminal results remove the flow; a create entry result
// delegates the new entry to the owning service.
type FlowManager struct {
	service *Service

	mu    sync.Mutex
	flows map[string]*flowState
}

func newFlowManager(service *Service) *FlowManager {
	return &FlowManager{
		service: service,
		flows:   map[string]*flowState{},
	}
}

// Progress lists every in-progress flow in start order. The records are for
// observability and UIs, not decision making.
func (m *FlowManager) Progress() []ProgressRecord {
	return m.progress("")
}

// ProgressForDomain lists in-progress flows for one domain in start order.
func (m *FlowManager) ProgressForDomain(domain string) []ProgressRecord {
	return m.progress(strings.TrimSpace(domain))
}

func (m *FlowManager) progress(domain string) []ProgressRecord {
	m.mu.Lock()
	states := make([]*flowState, 0, len(m.flows))
	for _, state := range m.flows {
		if domain != "" && state.domain != domain {
			continue
		}
		states = append(states, state)
	}
	m.mu.Unlock()

	sort.Slice(states, func(i, j int) bool {
		if states[i].startedAt.Equal(states[j].startedAt) {
			return states[i].id < states[j].id
		}
		return states[i].startedAt.Before(states[j].startedAt)
	})

	records := make([]ProgressRecord, 0, len(states))
	for _, state := range states {
		records = append(records, ProgressRecord{
			FlowID: state.id,
			Domain: state.domain,
			Source: state.source,
		})
	}
	return records
}

// Init starts a flow for domain and dispatches its initial step. User flows
// enter at the init step; any other source routes to the step named after
// the source tag, letting discovery style flows skip the generic form. The
// optional data payload is handed to that initial step unvalidated, schema
// validation only applies to configure calls against a declared form schema.
func (m *FlowManager) Init(ctx context.Context, domain string, source Source, data map[string]any) (result *FlowResult, err error) {
	s := m.service
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"domain": domain,
		"source": string(source),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "flow_init", err, fields)
	}()

	domain = strings.TrimSpace(domain)
	if domain == "" {
		err = s.errorFactory("flow domain is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
		return nil, err
	}
	if source == "" {
		source = SourceUser
	}
	if sourceErr := source.Validate(); sourceErr != nil {
		err = s.mapError(sourceErr)
		return nil, err
	}
	fields["source"] = string(source)

	if s.flowThrottle != nil {
		if throttleErr := s.flowThrottle.BeforeInit(ctx, domain, source); throttleErr != nil {
			err = s.mapError(throttleErr)
			return nil, err
		}
	}

	handler, err := s.resolveHandler(ctx, domain)
	if err != nil {
		m.finishThrottle(ctx, domain, source, FlowOutcomeFailed)
		return nil, err
	}

	flow := &flowState{
		id:        s.idGenerator(),
		domain:    domain,
		source:    source,
		version:   handler.Version(),
		steps:     handler.Steps(),
		curStepID: source.InitialStepID(),
		startedAt: time.Now().UTC(),
	}
	flow.context = &FlowContext{FlowID: flow.id, Domain: domain, Source: source}
	fields["flow_id"] = flow.id
	fields["step"] = flow.curStepID

	m.mu.Lock()
	m.flows[flow.id] = flow
	m.mu.Unlock()

	result, err = m.handleStep(ctx, flow, flow.curStepID, data)
	return result, err
}

// Configure advances the flow at its current step. Supplied input is
// validated against the schema the last form declared, if any, before the
// step runs. Validation failure surfaces to the caller and leaves the flow
// untouched.
func (m *FlowManager) Configure(ctx context.Context, flowID string, input map[string]any) (result *FlowResult, err error) {
	s := m.service
	startedAt := time.Now().UTC()
	fields := map[string]any{"flow_id": flowID}
	defer func() {
		s.observeOperation(ctx, startedAt, "flow_configure", err, fields)
	}()

	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		err = s.errorFactory("flow id is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
		return nil, err
	}

	m.mu.Lock()
	flow, ok := m.flows[flowID]
	var stepID string
	var schema *DataSchema
	if ok {
		stepID = flow.curStepID
		schema = flow.curSchema
	}
	m.mu.Unlock()
	if !ok {
		err = s.mapError(NewUnknownFlowError(flowID))
		return nil, err
	}
	fields["domain"] = flow.domain
	fields["source"] = string(flow.source)
	fields["step"] = stepID

	if schema != nil && input != nil {
		applied, applyErr := schema.Apply(input)
		if applyErr != nil {
			err = s.mapError(applyErr)
			return nil, err
		}
		input = applied
	}

	result, err = m.handleStep(ctx, flow, stepID, input)
	return result, err
}

// Abort cancels an in-progress flow without invoking the handler. This is
// the administrative cancel path, distinct from a handler returning an
// abort result.
func (m *FlowManager) Abort(ctx context.Context, flowID string) (err error) {
	s := m.service
	startedAt := time.Now().UTC()
	fields := map[string]any{"flow_id": flowID}
	defer func() {
		s.observeOperation(ctx, startedAt, "flow_abort", err, fields)
	}()

	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		err = s.errorFactory("flow id is required", goerrors.CategoryBadInput).
			WithTextCode(IntegrationErrorBadInput)
		return err
	}

	m.mu.Lock()
	flow, ok := m.flows[flowID]
	if ok {
		delete(m.flows, flowID)
	}
	m.mu.Unlock()
	if !ok {
		err = s.mapError(NewUnknownFlowError(flowID))
		return err
	}
	fields["domain"] = flow.domain
	fields["source"] = string(flow.source)

	m.finishThrottle(ctx, flow.domain, flow.source, FlowOutcomeAborted)
	return nil
}

// handleStep dispatches one step and applies the result protocol. A form
// keeps the flow alive and moves its cursor to the returned step and schema.
// Abort and create entry are terminal. An unsupported step discards the
// flow before erroring. A step error or an out of contract result kind
// leaves the flow in progress.
func (m *FlowManager) handleStep(ctx context.Context, flow *flowState, stepID string, input map[string]any) (*FlowResult, error) {
	s := m.service

	step, ok := flow.steps[stepID]
	if !ok || step == nil {
		m.remove(flow.id)
		m.finishThrottle(ctx, flow.domain, flow.source, FlowOutcomeFailed)
		return nil, s.mapError(NewUnknownStepError(flow.domain, stepID))
	}

	stepResult, stepErr := m.callStep(ctx, flow, step, input)
	if stepErr != nil {
		return nil, s.mapError(NewStepFailedError(flow.domain, stepID, stepErr))
	}

	switch stepResult.Kind {
	case StepResultForm:
		m.mu.Lock()
		flow.curStepID = stepResult.StepID
		flow.curSchema = stepResult.Schema
		m.mu.Unlock()
		return &FlowResult{
			Kind:        StepResultForm,
			FlowID:      flow.id,
			Domain:      flow.domain,
			Source:      flow.source,
			StepID:      stepResult.StepID,
			Schema:      stepResult.Schema,
			Title:       stepResult.Title,
			Errors:      stepResult.Errors,
			Description: stepResult.Description,
		}, nil

	case StepResultAbort:
		m.remove(flow.id)
		m.finishThrottle(ctx, flow.domain, flow.source, FlowOutcomeAborted)
		return &FlowResult{
			Kind:   StepResultAbort,
			FlowID: flow.id,
			Domain: flow.domain,
			Source: flow.source,
			Reason: stepResult.Reason,
		}, nil

	case StepResultCreateEntry:
		// The flow leaves the progress set before the entry is added, so a
		// schema rejection surfaces to the caller with no flow left behind.
		m.remove(flow.id)
		entry, addErr := s.AddEntry(ctx, AddEntryInput{
			Domain:  flow.domain,
			Title:   stepResult.Title,
			Data:    stepResult.Data,
			Source:  flow.source,
			Version: flow.version,
		})
		if addErr != nil {
			m.finishThrottle(ctx, flow.domain, flow.source, FlowOutcomeFailed)
			return nil, addErr
		}
		m.finishThrottle(ctx, flow.domain, flow.source, FlowOutcomeCreated)
		return &FlowResult{
			Kind:    StepResultCreateEntry,
			FlowID:  flow.id,
			Domain:  flow.domain,
			Source:  flow.source,
			Title:   entry.Title,
			Data:    entry.Data,
			EntryID: entry.EntryID,
		}, nil

	default:
		return nil, s.mapError(NewInvalidResultError(flow.domain, stepResult.Kind))
	}
}

func (m *FlowManager) callStep(ctx context.Context, flow *flowState, step StepFunc, input map[string]any) (result StepResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("core: step panic for domain %s: %v", flow.domain, recovered)
		}
	}()
	return step(ctx, flow.context, input)
}

func (m *FlowManager) remove(flowID string) {
	m.mu.Lock()
	delete(m.flows, flowID)
	m.mu.Unlock()
}

func (m *FlowManager) finishThrottle(ctx context.Context, domain string, source Source, outcome FlowOutcome) {
	s := m.service
	if s == nil || s.flowThrottle == nil {
		return
	}
	s.flowThrottle.AfterFinish(ctx, domain, source, outcome)
}
