package core

import (
	"context"
	"time"
)

// JobExecutionMessage is the queue payload for asynchronous work the service
// hands off, currently component setup runs. JobID names the work, Parameters
// carries its arguments, and IdempotencyKey plus DedupPolicy let the queue
// collapse duplicate requests for the same domain.
type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

// JobNackOptions shapes what happens to a delivery that could not be handled.
// Requeue and DeadLetter are requests; the queue adapter may clamp them under
// its retry policy.
type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

// JobEnqueuer accepts messages for later execution.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

// JobDelivery is one dequeued message awaiting an Ack or Nack verdict.
type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

// JobDequeuer blocks until a delivery is available or ctx ends.
type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

// JobWorkerHook observes the lifecycle of job handling. Hooks run inline on
// the worker loop and must not block.
type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

// JobWorkerEvent is the snapshot a hook receives per lifecycle transition.
// Err and Duration are populated only on terminal events.
type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
