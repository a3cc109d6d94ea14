package adapters_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-integrations/adapters/gocommand"
	"github.com/goliatone/go-integrations/adapters/gojob"
	"github.com/goliatone/go-integrations/adapters/gologger"
	"github.com/goliatone/go-integrations/bootstrap"
	integrationscommand "github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/components"
	"github.com/goliatone/go-integrations/components/example"
	"github.com/goliatone/go-integrations/core"
)

// TestRuntimeCompatibility_QueuedSetupOverGoJob runs the full setup handoff
// through the real go-job bridge: AddEntry queues a deduped job, the worker
// drains it, and the entry comes out loaded.
func TestRuntimeCompatibility_QueuedSetupOverGoJob(t *testing.T) {
	ctx := context.Background()

	registry := core.NewHandlerRegistry()
	if err := example.Register(registry); err != nil {
		t.Fatalf("register example pack: %v", err)
	}
	loader, err := components.NewStaticLoader(registry, example.Pack())
	if err != nil {
		t.Fatalf("new static loader: %v", err)
	}

	mq := &memoryQueue{}
	bridge := gojob.NewQueue(mq, mq, gojob.RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	})

	runs := bootstrap.NewOrchestrator(bootstrap.NewMemoryRunStore())
	host := bootstrap.NewHost(
		bootstrap.WithEnqueuer(bridge),
		bootstrap.WithLoader(loader),
		bootstrap.WithOrchestrator(runs),
	)

	svc, err := core.NewService(core.DefaultConfig(),
		core.WithRegistry(registry),
		core.WithComponentHost(host),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	host.Bind(svc)

	entry, err := svc.AddEntry(ctx, core.AddEntryInput{
		Domain: example.Domain,
		Title:  "Bridge",
		Data:   map[string]any{"host": "10.0.0.2"},
	})
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}
	pending, err := svc.GetEntry(entry.EntryID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if pending.State != core.EntryStateNotLoaded {
		t.Fatalf("expected pending entry before the worker ran, got %q", pending.State)
	}

	queued := mq.head()
	if queued == nil {
		t.Fatalf("expected a queued setup job")
	}
	if queued.JobID != bootstrap.SetupJobID {
		t.Fatalf("expected job id %q, got %q", bootstrap.SetupJobID, queued.JobID)
	}
	if queued.IdempotencyKey != example.Domain {
		t.Fatalf("expected idempotency key %q, got %q", example.Domain, queued.IdempotencyKey)
	}
	runID, _ := queued.Parameters["run_id"].(string)
	if runID == "" {
		t.Fatalf("expected run id on the queued job")
	}

	// A second entry for the same domain rides the already pending job.
	twin, err := svc.AddEntry(ctx, core.AddEntryInput{
		Domain: example.Domain,
		Title:  "Bridge Twin",
		Data:   map[string]any{"host": "10.0.0.3"},
	})
	if err != nil {
		t.Fatalf("add twin entry: %v", err)
	}
	if mq.depth() != 1 {
		t.Fatalf("expected drop-newest dedup to keep one job, got %d", mq.depth())
	}

	_, workerLogger, jobProvider, jobLogger := gologger.ForWorker("integrations", nil, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges for the worker runtime")
	}

	worker := bootstrap.NewWorker(bridge, host)
	worker.Runs = runs
	worker.Logger = workerLogger

	if err := worker.ProcessOne(ctx); err != nil {
		t.Fatalf("process queued setup: %v", err)
	}

	for _, id := range []string{entry.EntryID, twin.EntryID} {
		loaded, err := svc.GetEntry(id)
		if err != nil {
			t.Fatalf("get entry %q after worker: %v", id, err)
		}
		if loaded.State != core.EntryStateLoaded {
			t.Fatalf("expected entry %q loaded after worker, got %q", id, loaded.State)
		}
	}
	if !host.Running(example.Domain) {
		t.Fatalf("expected component marked running")
	}
	if mq.depth() != 0 {
		t.Fatalf("expected drained queue, got %d pending", mq.depth())
	}
	if mq.ackCount() != 1 {
		t.Fatalf("expected one acked delivery, got %d", mq.ackCount())
	}
	finished, err := runs.Runs.Get(ctx, runID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if finished.Status != bootstrap.RunStatusSucceeded {
		t.Fatalf("expected succeeded run, got %q", finished.Status)
	}
}

func TestRuntimeCompatibility_EntryCommandsAcrossBus(t *testing.T) {
	writer := &entryWriterProbe{}
	bus := gocommand.NewBus(gocmd.NewRegistry())

	addSub, err := gocommand.Mount(bus, integrationscommand.NewAddEntryCommand(writer))
	if err != nil {
		t.Fatalf("mount add entry command: %v", err)
	}
	defer addSub.Unsubscribe()

	removeSub, err := gocommand.Mount(bus, integrationscommand.NewRemoveEntryCommand(writer))
	if err != nil {
		t.Fatalf("mount remove entry command: %v", err)
	}
	defer removeSub.Unsubscribe()

	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize bus: %v", err)
	}

	collector := gocmd.NewResult[*core.Entry]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := gocommand.Dispatch(ctx, integrationscommand.AddEntryMessage{
		Input: core.AddEntryInput{
			Domain: "hue",
			Title:  "Bridge",
			Data:   map[string]any{"host": "10.0.0.2"},
		},
	}); err != nil {
		t.Fatalf("dispatch add entry: %v", err)
	}
	if writer.addCalls != 1 || writer.lastDomain != "hue" {
		t.Fatalf("expected add entry handler invocation through the bus")
	}
	entry, ok := collector.Load()
	if !ok || entry == nil || entry.Domain != "hue" {
		t.Fatalf("expected dispatched result in collector, got %#v", entry)
	}

	removeCollector := gocmd.NewResult[core.RemoveResult]()
	removeCtx := gocmd.ContextWithResult(context.Background(), removeCollector)
	if err := gocommand.Dispatch(removeCtx, integrationscommand.RemoveEntryMessage{
		EntryID: entry.EntryID,
	}); err != nil {
		t.Fatalf("dispatch remove entry: %v", err)
	}
	if writer.removeCalls != 1 || writer.lastEntryID != entry.EntryID {
		t.Fatalf("expected remove entry handler invocation through the bus")
	}
	if result, ok := removeCollector.Load(); !ok || !result.RequireRestart {
		t.Fatalf("expected remove result in collector, got %#v", result)
	}
}

// memoryQueue is an in-process go-job queue: a pending slice guarded by a
// mutex, honoring drop-newest dedup on pending idempotency keys the way the
// production queue does.
type memoryQueue struct {
	mu      sync.Mutex
	pending []*job.ExecutionMessage
	acks    int
}

func (q *memoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if string(msg.DedupPolicy) == bootstrap.DedupPolicyDropNewest && msg.IdempotencyKey != "" {
		for _, waiting := range q.pending {
			if waiting.IdempotencyKey == msg.IdempotencyKey {
				return nil
			}
		}
	}
	q.pending = append(q.pending, msg)
	return nil
}

func (q *memoryQueue) Dequeue(_ context.Context) (queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, fmt.Errorf("memory queue is empty")
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return &memoryDelivery{queue: q, msg: msg}, nil
}

func (q *memoryQueue) head() *job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[0]
}

func (q *memoryQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *memoryQueue) ackCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acks
}

type memoryDelivery struct {
	queue *memoryQueue
	msg   *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.queue.acks++
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if !opts.Requeue {
		return nil
	}
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.queue.pending = append(d.queue.pending, d.msg)
	return nil
}

type entryWriterProbe struct {
	addCalls    int
	removeCalls int
	lastDomain  string
	lastEntryID string
}

func (w *entryWriterProbe) AddEntry(_ context.Context, input core.AddEntryInput) (*core.Entry, error) {
	w.addCalls++
	w.lastDomain = input.Domain
	return &core.Entry{EntryID: "entry_1", Domain: input.Domain, Title: input.Title}, nil
}

func (w *entryWriterProbe) RemoveEntry(_ context.Context, entryID string) (core.RemoveResult, error) {
	w.removeCalls++
	w.lastEntryID = entryID
	return core.RemoveResult{RequireRestart: true}, nil
}
