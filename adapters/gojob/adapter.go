// Package gojob carries the bootstrap setup handoff over go-job queues.
// Core job messages map onto go-job execution messages, and deliveries
// come back wrapped in a bounce guard so a crashing setup cannot requeue
// forever even when the worker loses its run record.
package gojob

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

// RetryPolicy bounds what a nack may ask of the queue. MaxAttempts counts
// bounces per idempotency key inside the bridge, independent of any run
// record kept elsewhere.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Queue bridges go-job enqueue and dequeue endpoints into the core job
// seams the bootstrap host and worker consume.
type Queue struct {
	enqueuer queue.Enqueuer
	dequeuer queue.Dequeuer
	policy   RetryPolicy

	mu      sync.Mutex
	bounces map[string]int
}

func NewQueue(enqueuer queue.Enqueuer, dequeuer queue.Dequeuer, policy RetryPolicy) *Queue {
	return &Queue{
		enqueuer: enqueuer,
		dequeuer: dequeuer,
		policy:   policy,
		bounces:  map[string]int{},
	}
}

func (q *Queue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if q == nil || q.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return q.enqueuer.Enqueue(ctx, toQueueMessage(msg))
}

func (q *Queue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil || q.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	inner, err := q.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return &delivery{queue: q, inner: inner}, nil
}

// bounce records one failed handling of key and reports the total so far.
func (q *Queue) bounce(key string) int {
	if key == "" {
		return 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bounces[key]++
	return q.bounces[key]
}

// settle forgets the bounce history of key once its delivery reached a
// terminal outcome.
func (q *Queue) settle(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.bounces, key)
}

// delivery applies the retry policy on the way out and keeps the bounce
// ledger in sync with ack and nack outcomes.
type delivery struct {
	queue *Queue
	inner queue.Delivery
}

func (d *delivery) Message() *core.JobExecutionMessage {
	if d == nil || d.inner == nil {
		return nil
	}
	return fromQueueMessage(d.inner.Message())
}

func (d *delivery) Ack(ctx context.Context) error {
	if d == nil || d.inner == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	d.queue.settle(d.key())
	return d.inner.Ack(ctx)
}

func (d *delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	if d == nil || d.inner == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}

	key := d.key()
	opts = d.queue.policy.bound(opts, d.queue.bounce(key))
	if !opts.Requeue {
		d.queue.settle(key)
	}
	return d.inner.Nack(ctx, queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	})
}

func (d *delivery) key() string {
	msg := d.inner.Message()
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

// bound sanitizes nack options: delays are clamped, dead letter wins over
// requeue, exhausted keys stop requeueing, and a nack asking for neither
// requeue nor dead letter falls back to requeue so a delivery cannot
// vanish silently.
func (p RetryPolicy) bound(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	opts.Reason = strings.TrimSpace(opts.Reason)
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if p.MaxDelay > 0 && opts.Delay > p.MaxDelay {
		opts.Delay = p.MaxDelay
	}
	if opts.DeadLetter {
		opts.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		opts.Requeue = false
		if p.DeadLetterOnMax {
			opts.DeadLetter = true
		}
	}
	if !opts.Requeue && !opts.DeadLetter {
		opts.Requeue = true
	}
	return opts
}

// HookBridge lets a core job hook observe go-job worker events, for hosts
// that run the setup handoff on go-job's own worker runtime.
type HookBridge struct {
	hook core.JobWorkerHook
}

func NewHookBridge(hook core.JobWorkerHook) *HookBridge {
	return &HookBridge{hook: hook}
}

func (b *HookBridge) OnStart(ctx context.Context, event worker.Event) {
	if b != nil && b.hook != nil {
		b.hook.OnStart(ctx, bridgeEvent(event))
	}
}

func (b *HookBridge) OnSuccess(ctx context.Context, event worker.Event) {
	if b != nil && b.hook != nil {
		b.hook.OnSuccess(ctx, bridgeEvent(event))
	}
}

func (b *HookBridge) OnFailure(ctx context.Context, event worker.Event) {
	if b != nil && b.hook != nil {
		b.hook.OnFailure(ctx, bridgeEvent(event))
	}
}

func (b *HookBridge) OnRetry(ctx context.Context, event worker.Event) {
	if b != nil && b.hook != nil {
		b.hook.OnRetry(ctx, bridgeEvent(event))
	}
}

func bridgeEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   fromQueueMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

// toQueueMessage maps the core payload onto go-job's wire shape. ScriptPath
// stays zero; this module addresses work by job id, not by script file.
func toQueueMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func fromQueueMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

func cloneParameters(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

var (
	_ core.JobEnqueuer = (*Queue)(nil)
	_ core.JobDequeuer = (*Queue)(nil)
	_ core.JobDelivery = (*delivery)(nil)
	_ worker.Hook      = (*HookBridge)(nil)
)
