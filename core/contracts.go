package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

// Handler is the polymorphic capability one integration implements for its
// configuration flows. Steps returns an explicit step id to function mapping;
// an id absent from the map is fatal to the flow that requests it. Schema is
// the declared shape of entry data, applied once at add time, nil when the
// integration accepts anything. Version stamps new entries so the integration
// can migrate stored data across upgrades.
type Handler interface {
	Version() int
	Schema() *DataSchema
	Steps() map[string]StepFunc
}

// HandlerFactory builds a fresh handler instance per started flow.
type HandlerFactory func() Handler

// Registry is the process scoped domain to factory mapping. Lookup must be
// side effect free.
type Registry interface {
	Register(domain string, factory HandlerFactory) error
	Lookup(domain string) (HandlerFactory, bool)
	Domains() []string
}

// Component is the runtime unit of an integration. SetupEntry is invoked once
// per entry; a false return or an error marks the entry setup_error. Component
// code is untrusted for liveness, the orchestrator guards every call.
type Component interface {
	SetupEntry(ctx context.Context, entry *Entry) (bool, error)
}

// EntryUnloader is the optional unload capability. Presence is detected
// structurally with a type assertion, never declared; integrations that only
// support setup simply do not implement it.
type EntryUnloader interface {
	UnloadEntry(ctx context.Context, entry *Entry) (bool, error)
}

// ComponentLoader imports an integration's code. Loading is expected to
// register the domain's flow handler as a side effect.
type ComponentLoader interface {
	Load(ctx context.Context, domain string) (Component, error)
}

// RequirementsResolver resolves an integration's declared dependencies and
// requirements. It runs only when a flow start had to load the component, and
// its failure aborts that start.
type RequirementsResolver interface {
	Resolve(ctx context.Context, domain string, component Component) error
}

// ComponentHost tracks which integration components are running and accepts
// asynchronous setup handoffs. A freshly started component is expected to set
// up all entries of its domain, including the one whose add triggered the
// handoff.
type ComponentHost interface {
	Running(domain string) bool
	RunningComponent(domain string) (Component, bool)
	RequestSetup(ctx context.Context, domain string) error
}

// EntryRecordStore is the persistence backend for the entry collection. Load
// returns an empty slice, not an error, when nothing was persisted yet. Save
// replaces the whole previously stored collection atomically from the
// caller's point of view.
type EntryRecordStore interface {
	Load(ctx context.Context) ([]EntryRecord, error)
	Save(ctx context.Context, records []EntryRecord) error
}

// EntryListener observes entry lifecycle changes. Listener failures are
// logged and never fail the operation that produced the event.
type EntryListener interface {
	EntryAdded(ctx context.Context, entry *Entry)
	EntryRemoved(ctx context.Context, entry *Entry)
	EntryStateChanged(ctx context.Context, entry *Entry, previous EntryState)
}

// SecretProvider wraps and unwraps sensitive values persisted at rest.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// FlowThrottle guards flow initiation against ingestion storms. BeforeInit
// runs before any flow state is allocated; AfterFinish observes the terminal
// outcome so the policy can adapt.
type FlowThrottle interface {
	BeforeInit(ctx context.Context, domain string, source Source) error
	AfterFinish(ctx context.Context, domain string, source Source, outcome FlowOutcome)
}

type FlowOutcome string

const (
	FlowOutcomeCreated FlowOutcome = "created"
	FlowOutcomeAborted FlowOutcome = "aborted"
	FlowOutcomeFailed  FlowOutcome = "failed"
)

// Aliases into go-logger so dependent packages name logging through core.
type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
