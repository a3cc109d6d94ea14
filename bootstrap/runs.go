package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrRunNotFound = errors.New("bootstrap: run not found")

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one component setup handoff from enqueue to terminal outcome.
type Run struct {
	ID            string
	Domain        string
	Status        RunStatus
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Metadata      map[string]any
}

type RunStore interface {
	Create(ctx context.Context, run Run) (Run, error)
	Get(ctx context.Context, id string) (Run, error)
	Update(ctx context.Context, run Run) (Run, error)
}

// Orchestrator moves run records through their lifecycle. It never drives
// component setup itself; the host and worker call in at each transition.
type Orchestrator struct {
	Runs RunStore
	Now  func() time.Time
}

func NewOrchestrator(runs RunStore) *Orchestrator {
	return &Orchestrator{
		Runs: runs,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start records a queued setup handoff for domain.
func (o *Orchestrator) Start(ctx context.Context, domain string, metadata map[string]any) (Run, error) {
	if o == nil || o.Runs == nil {
		return Run{}, fmt.Errorf("bootstrap: orchestrator requires a run store")
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return Run{}, fmt.Errorf("bootstrap: domain is required")
	}

	now := o.now()
	return o.Runs.Create(ctx, Run{
		ID:        uuid.NewString(),
		Domain:    domain,
		Status:    RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  mergeAnyMap(nil, metadata),
	})
}

// Begin marks a run as actively setting up and counts the attempt.
func (o *Orchestrator) Begin(ctx context.Context, runID string) (Run, error) {
	if o == nil || o.Runs == nil {
		return Run{}, fmt.Errorf("bootstrap: orchestrator requires a run store")
	}
	run, err := o.Runs.Get(ctx, strings.TrimSpace(runID))
	if err != nil {
		return Run{}, err
	}
	run.Status = RunStatusRunning
	run.Attempts++
	run.UpdatedAt = o.now()
	return o.Runs.Update(ctx, run)
}

func (o *Orchestrator) Complete(ctx context.Context, runID string) (Run, error) {
	if o == nil || o.Runs == nil {
		return Run{}, fmt.Errorf("bootstrap: orchestrator requires a run store")
	}
	run, err := o.Runs.Get(ctx, strings.TrimSpace(runID))
	if err != nil {
		return Run{}, err
	}
	run.Status = RunStatusSucceeded
	run.LastError = ""
	run.NextAttemptAt = nil
	run.UpdatedAt = o.now()
	return o.Runs.Update(ctx, run)
}

func (o *Orchestrator) Fail(ctx context.Context, runID string, cause error, nextAttemptAt *time.Time) (Run, error) {
	if o == nil || o.Runs == nil {
		return Run{}, fmt.Errorf("bootstrap: orchestrator requires a run store")
	}
	run, err := o.Runs.Get(ctx, strings.TrimSpace(runID))
	if err != nil {
		return Run{}, err
	}
	run.Status = RunStatusFailed
	run.LastError = strings.TrimSpace(fmt.Sprint(cause))
	run.UpdatedAt = o.now()
	if nextAttemptAt != nil {
		value := nextAttemptAt.UTC()
		run.NextAttemptAt = &value
	}
	return o.Runs.Update(ctx, run)
}

// Resume requeues a failed run. Succeeded runs are left alone.
func (o *Orchestrator) Resume(ctx context.Context, runID string) error {
	if o == nil || o.Runs == nil {
		return fmt.Errorf("bootstrap: orchestrator requires a run store")
	}
	run, err := o.Runs.Get(ctx, strings.TrimSpace(runID))
	if err != nil {
		return err
	}

	switch run.Status {
	case RunStatusSucceeded:
		return nil
	case RunStatusFailed:
		run.Status = RunStatusQueued
	}
	run.NextAttemptAt = nil
	run.UpdatedAt = o.now()
	_, err = o.Runs.Update(ctx, run)
	return err
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func mergeAnyMap(left map[string]any, right map[string]any) map[string]any {
	if len(left) == 0 && len(right) == 0 {
		return map[string]any{}
	}
	merged := map[string]any{}
	for key, value := range left {
		merged[key] = value
	}
	for key, value := range right {
		merged[key] = value
	}
	return merged
}

type MemoryRunStore struct {
	mu    sync.RWMutex
	items map[string]Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{items: map[string]Run{}}
}

func (s *MemoryRunStore) Create(_ context.Context, run Run) (Run, error) {
	if s == nil {
		return Run{}, fmt.Errorf("bootstrap: run store is nil")
	}
	if strings.TrimSpace(run.ID) == "" {
		return Run{}, fmt.Errorf("bootstrap: run id is required")
	}
	run.Metadata = mergeAnyMap(run.Metadata, nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[run.ID] = run
	return run, nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (Run, error) {
	if s == nil {
		return Run{}, fmt.Errorf("bootstrap: run store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	run.Metadata = mergeAnyMap(run.Metadata, nil)
	return run, nil
}

func (s *MemoryRunStore) Update(_ context.Context, run Run) (Run, error) {
	if s == nil {
		return Run{}, fmt.Errorf("bootstrap: run store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[run.ID]; !ok {
		return Run{}, ErrRunNotFound
	}
	run.Metadata = mergeAnyMap(run.Metadata, nil)
	s.items[run.ID] = run
	return run, nil
}
