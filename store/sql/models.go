package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-integrations/bootstrap"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/throttle"
)

// entryRecord mirrors core.EntryRecord on disk. Position keeps the in-memory
// collection order stable across save and load cycles.
type entryRecord struct {
	bun.BaseModel `bun:"table:integration_entries,alias:ie"`

	ID        string         `bun:"id,pk"`
	Version   int            `bun:"version,notnull"`
	Domain    string         `bun:"domain,notnull"`
	Title     string         `bun:"title,notnull"`
	Data      map[string]any `bun:"data,type:jsonb,notnull"`
	Source    string         `bun:"source,notnull"`
	State     string         `bun:"state,notnull"`
	Position  int            `bun:"position,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newEntryRecord(rec core.EntryRecord, position int, now time.Time) *entryRecord {
	return &entryRecord{
		ID:        rec.EntryID,
		Version:   rec.Version,
		Domain:    rec.Domain,
		Title:     rec.Title,
		Data:      copyAnyMap(rec.Data),
		Source:    rec.Source,
		State:     rec.State,
		Position:  position,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *entryRecord) toDomain() core.EntryRecord {
	if r == nil {
		return core.EntryRecord{}
	}
	return core.EntryRecord{
		EntryID: r.ID,
		Version: r.Version,
		Domain:  r.Domain,
		Title:   r.Title,
		Data:    copyAnyMap(r.Data),
		Source:  r.Source,
		State:   r.State,
	}
}

type throttleStateRecord struct {
	bun.BaseModel `bun:"table:flow_throttle_state,alias:fts"`

	ID             string         `bun:"id,pk"`
	Domain         string         `bun:"domain,notnull"`
	Source         string         `bun:"source,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	ThrottledUntil *time.Time     `bun:"throttled_until,nullzero"`
	LastOutcome    string         `bun:"last_outcome"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *throttleStateRecord) toDomain() throttle.State {
	if r == nil {
		return throttle.State{}
	}
	state := throttle.State{
		Key: throttle.Key{
			Domain: r.Domain,
			Source: core.Source(r.Source),
		},
		Attempts:    r.Attempts,
		LastOutcome: core.FlowOutcome(r.LastOutcome),
		UpdatedAt:   r.UpdatedAt,
		Metadata:    copyAnyMap(r.Metadata),
	}
	if r.ThrottledUntil != nil {
		value := *r.ThrottledUntil
		state.ThrottledUntil = &value
	}
	return state
}

type bootstrapRunRecord struct {
	bun.BaseModel `bun:"table:bootstrap_runs,alias:br"`

	ID            string         `bun:"id,pk"`
	Domain        string         `bun:"domain,notnull"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	LastError     string         `bun:"last_error"`
	NextAttemptAt *time.Time     `bun:"next_attempt_at,nullzero"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newBootstrapRunRecord(run bootstrap.Run) *bootstrapRunRecord {
	record := &bootstrapRunRecord{
		ID:        run.ID,
		Domain:    run.Domain,
		Status:    string(run.Status),
		Attempts:  run.Attempts,
		LastError: run.LastError,
		Metadata:  copyAnyMap(run.Metadata),
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if run.NextAttemptAt != nil {
		value := run.NextAttemptAt.UTC()
		record.NextAttemptAt = &value
	}
	return record
}

func (r *bootstrapRunRecord) toDomain() bootstrap.Run {
	if r == nil {
		return bootstrap.Run{}
	}
	run := bootstrap.Run{
		ID:        r.ID,
		Domain:    r.Domain,
		Status:    bootstrap.RunStatus(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Metadata:  copyAnyMap(r.Metadata),
	}
	if r.NextAttemptAt != nil {
		value := *r.NextAttemptAt
		run.NextAttemptAt = &value
	}
	return run
}

func copyAnyMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}
