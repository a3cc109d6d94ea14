package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidEntryState           = errors.New("core: invalid entry state")
	ErrInvalidEntryStateTransition = errors.New("core: invalid entry state transition")
	ErrInvalidSource               = errors.New("core: invalid source")
	ErrInvalidStepResultKind       = errors.New("core: invalid step result kind")
)

type EntryState string

const (
	EntryStateNotLoaded  EntryState = "not_loaded"
	EntryStateLoaded     EntryState = "loaded"
	EntryStateSetupError EntryState = "setup_error"
)

func (s EntryState) IsValid() bool {
	switch s {
	case EntryStateNotLoaded, EntryStateLoaded, EntryStateSetupError:
		return true
	}
	return false
}

type Source string

const (
	SourceUser      Source = "user"
	SourceDiscovery Source = "discovery"
)

// StepInit is the entry step for user initiated flows. Flows started from any
// other source route to the step named after the source tag itself.
const StepInit = "init"

func (s Source) Validate() error {
	if strings.TrimSpace(string(s)) == "" {
		return fmt.Errorf("%w: empty source", ErrInvalidSource)
	}
	return nil
}

func (s Source) InitialStepID() string {
	if s == SourceUser {
		return StepInit
	}
	return string(s)
}

// Entry is one persisted configuration instance of an integration. EntryID is
// the sole lookup key; Domain carries no uniqueness constraint, multiple
// entries per integration are allowed.
type Entry struct {
	EntryID string
	Version int
	Domain  string
	Title   string
	Data    map[string]any
	Source  Source
	State   EntryState
}

func NewEntry(domain string, version int, title string, data map[string]any, source Source) *Entry {
	return &Entry{
		EntryID: uuid.NewString(),
		Version: version,
		Domain:  strings.TrimSpace(domain),
		Title:   title,
		Data:    cloneAnyMap(data),
		Source:  source,
		State:   EntryStateNotLoaded,
	}
}

func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("core: entry is nil")
	}
	if strings.TrimSpace(e.Domain) == "" {
		return fmt.Errorf("core: entry domain is required")
	}
	if err := e.Source.Validate(); err != nil {
		return err
	}
	if e.State != "" && !e.State.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntryState, e.State)
	}
	if e.Version < 0 {
		return fmt.Errorf("core: entry version must not be negative")
	}
	return nil
}

func (e *Entry) TransitionTo(state EntryState) error {
	if e == nil {
		return nil
	}
	if e.State == state {
		return nil
	}
	if !entryStateTransitionAllowed(e.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidEntryStateTransition, e.State, state)
	}
	e.State = state
	return nil
}

func entryStateTransitionAllowed(current, next EntryState) bool {
	allowed := map[EntryState]map[EntryState]struct{}{
		EntryStateNotLoaded: {
			EntryStateLoaded:     {},
			EntryStateSetupError: {},
		},
		EntryStateLoaded: {
			EntryStateNotLoaded: {},
		},
		EntryStateSetupError: {
			EntryStateLoaded:    {},
			EntryStateNotLoaded: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// Clone copies the entry deeply enough that callers cannot reach internal
// state through the Data map.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Data = cloneAnyMap(e.Data)
	return &out
}

// Snapshot produces the persistence shape: a pure copy of every field, no
// hidden state, no derived values.
func (e *Entry) Snapshot() EntryRecord {
	return EntryRecord{
		EntryID: e.EntryID,
		Version: e.Version,
		Domain:  e.Domain,
		Title:   e.Title,
		Data:    cloneAnyMap(e.Data),
		Source:  string(e.Source),
		State:   string(e.State),
	}
}

// EntryRecord is the serialized form of an Entry. The persisted file is a
// single flat array of these records.
type EntryRecord struct {
	EntryID string         `json:"entry_id"`
	Version int            `json:"version"`
	Domain  string         `json:"domain"`
	Title   string         `json:"title"`
	Data    map[string]any `json:"data"`
	Source  string         `json:"source"`
	State   string         `json:"state"`
}

// EntryFromRecord reconstructs an Entry from its persisted record. The stored
// state is trusted verbatim; an unrecognized state string degrades to
// not_loaded so one bad record cannot block a whole load.
func EntryFromRecord(rec EntryRecord) *Entry {
	state := EntryState(rec.State)
	if !state.IsValid() {
		state = EntryStateNotLoaded
	}
	return &Entry{
		EntryID: rec.EntryID,
		Version: rec.Version,
		Domain:  rec.Domain,
		Title:   rec.Title,
		Data:    cloneAnyMap(rec.Data),
		Source:  Source(rec.Source),
		State:   state,
	}
}

// RemoveResult reports the outcome of removing an entry. The persisted record
// is always gone once removal returns; RequireRestart signals that the running
// component could not be cleanly stopped and a process restart is needed to
// actually free the resource.
type RemoveResult struct {
	RequireRestart bool
}

// ProgressRecord describes one in-progress flow for observability surfaces.
type ProgressRecord struct {
	FlowID string `json:"flow_id"`
	Domain string `json:"domain"`
	Source Source `json:"source"`
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
