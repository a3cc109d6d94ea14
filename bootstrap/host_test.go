package bootstrap

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-integrations/core"
)

type stubHandler struct{}

func (stubHandler) Version() int                    { return 1 }
func (stubHandler) Schema() *core.DataSchema        { return nil }
func (stubHandler) Steps() map[string]core.StepFunc { return nil }

type stubComponent struct {
	mu     sync.Mutex
	setups []string
}

func (c *stubComponent) SetupEntry(_ context.Context, entry *core.Entry) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setups = append(c.setups, entry.EntryID)
	return true, nil
}

func (c *stubComponent) setupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.setups)
}

type stubLoader struct {
	mu        sync.Mutex
	component core.Component
	err       error
	loads     int
}

func (l *stubLoader) Load(_ context.Context, _ string) (core.Component, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	return l.component, nil
}

func (l *stubLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

type captureEnqueuer struct {
	mu       sync.Mutex
	messages []*core.JobExecutionMessage
	err      error
}

func (e *captureEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

type countingRunStore struct {
	*MemoryRunStore
	mu      sync.Mutex
	creates int
}

func newCountingRunStore() *countingRunStore {
	return &countingRunStore{MemoryRunStore: NewMemoryRunStore()}
}

func (s *countingRunStore) Create(ctx context.Context, run Run) (Run, error) {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	return s.MemoryRunStore.Create(ctx, run)
}

func (s *countingRunStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func newBoundService(t *testing.T, host *Host, loader core.ComponentLoader) *core.Service {
	t.Helper()
	registry := core.NewHandlerRegistry()
	if err := registry.Register("demo", func() core.Handler { return stubHandler{} }); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	opts := []core.Option{core.WithRegistry(registry)}
	if host != nil {
		opts = append(opts, core.WithComponentHost(host))
	}
	if loader != nil {
		opts = append(opts, core.WithComponentLoader(loader))
	}
	svc, err := core.NewService(core.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if host != nil {
		host.Bind(svc)
	}
	return svc
}

func TestHost_RequestSetupQueuesDedupedJob(t *testing.T) {
	enqueuer := &captureEnqueuer{}
	runs := newCountingRunStore()
	host := NewHost(
		WithEnqueuer(enqueuer),
		WithOrchestrator(NewOrchestrator(runs)),
	)

	if err := host.RequestSetup(context.Background(), "demo"); err != nil {
		t.Fatalf("request setup: %v", err)
	}

	if len(enqueuer.messages) != 1 {
		t.Fatalf("expected one queued job, got %d", len(enqueuer.messages))
	}
	msg := enqueuer.messages[0]
	if msg.JobID != SetupJobID {
		t.Fatalf("expected job id %q, got %q", SetupJobID, msg.JobID)
	}
	if msg.IdempotencyKey != "demo" {
		t.Fatalf("expected idempotency key %q, got %q", "demo", msg.IdempotencyKey)
	}
	if msg.DedupPolicy != DedupPolicyDropNewest {
		t.Fatalf("expected dedup policy %q, got %q", DedupPolicyDropNewest, msg.DedupPolicy)
	}
	if msg.Parameters["domain"] != "demo" {
		t.Fatalf("expected domain parameter, got %v", msg.Parameters["domain"])
	}

	runID, _ := msg.Parameters["run_id"].(string)
	if runID == "" {
		t.Fatalf("expected run id parameter")
	}
	run, err := runs.Get(context.Background(), runID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Status != RunStatusQueued {
		t.Fatalf("expected queued run, got %q", run.Status)
	}
}

func TestHost_RequestSetupEnqueueFailureMarksRunFailed(t *testing.T) {
	enqueuer := &captureEnqueuer{err: errors.New("queue offline")}
	runs := newCountingRunStore()
	host := NewHost(
		WithEnqueuer(enqueuer),
		WithOrchestrator(NewOrchestrator(runs)),
	)

	err := host.RequestSetup(context.Background(), "demo")
	if err == nil {
		t.Fatalf("expected enqueue failure to surface")
	}
	if !strings.Contains(err.Error(), "queue offline") {
		t.Fatalf("unexpected error: %v", err)
	}

	if runs.createCount() != 1 {
		t.Fatalf("expected one run record, got %d", runs.createCount())
	}
}

func TestHost_SynchronousSetupWhenNoQueue(t *testing.T) {
	component := &stubComponent{}
	loader := &stubLoader{component: component}
	runs := newCountingRunStore()
	host := NewHost(WithOrchestrator(NewOrchestrator(runs)))
	svc := newBoundService(t, host, loader)
	ctx := context.Background()

	entry, err := svc.AddEntry(ctx, core.AddEntryInput{
		Domain: "demo",
		Title:  "Kitchen",
		Data:   map[string]any{"host": "10.0.0.5"},
	})
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}

	stored, err := svc.GetEntry(entry.EntryID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if stored.State != core.EntryStateLoaded {
		t.Fatalf("expected loaded entry, got %q", stored.State)
	}
	if component.setupCount() != 1 {
		t.Fatalf("expected one setup call, got %d", component.setupCount())
	}
	if loader.loadCount() != 1 {
		t.Fatalf("expected one component load, got %d", loader.loadCount())
	}
	if !host.Running("demo") {
		t.Fatalf("expected component marked running")
	}
	if runs.createCount() != 1 {
		t.Fatalf("expected one run record, got %d", runs.createCount())
	}
}

func TestHost_RunningComponentReusedForLaterEntries(t *testing.T) {
	component := &stubComponent{}
	loader := &stubLoader{component: component}
	runs := newCountingRunStore()
	host := NewHost(WithOrchestrator(NewOrchestrator(runs)))
	svc := newBoundService(t, host, loader)
	ctx := context.Background()

	for _, title := range []string{"Kitchen", "Bedroom"} {
		if _, err := svc.AddEntry(ctx, core.AddEntryInput{
			Domain: "demo",
			Title:  title,
			Data:   map[string]any{"host": "10.0.0.5"},
		}); err != nil {
			t.Fatalf("add entry %q: %v", title, err)
		}
	}

	if loader.loadCount() != 1 {
		t.Fatalf("expected component loaded once, got %d", loader.loadCount())
	}
	if component.setupCount() != 2 {
		t.Fatalf("expected both entries set up, got %d", component.setupCount())
	}
	if runs.createCount() != 1 {
		t.Fatalf("expected the running component to skip the handoff, got %d runs", runs.createCount())
	}
}

func TestHost_SetupDomainWithoutBinding(t *testing.T) {
	host := NewHost()

	err := host.SetupDomain(context.Background(), "demo")
	if err == nil || !strings.Contains(err.Error(), "not bound") {
		t.Fatalf("expected binding error, got %v", err)
	}
}

func TestHost_SetupDomainLoaderFailure(t *testing.T) {
	loader := &stubLoader{err: errors.New("import exploded")}
	host := NewHost()
	newBoundService(t, host, loader)

	err := host.SetupDomain(context.Background(), "demo")
	if err == nil || !strings.Contains(err.Error(), "import exploded") {
		t.Fatalf("expected loader failure to surface, got %v", err)
	}
	if host.Running("demo") {
		t.Fatalf("component must not be marked running after a failed load")
	}
}
