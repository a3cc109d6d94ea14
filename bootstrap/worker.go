package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-integrations/core"
)

// Worker consumes queued setup jobs and drives them through the host. Retry
// bounds live here for runs with a record; queue side policies still apply
// to the nack options the worker emits.
type Worker struct {
	Dequeuer    core.JobDequeuer
	Host        *Host
	Runs        *Orchestrator
	Logger      core.Logger
	MaxAttempts int
	RetryDelay  time.Duration
	Now         func() time.Time
}

func NewWorker(dequeuer core.JobDequeuer, host *Host) *Worker {
	return &Worker{
		Dequeuer:    dequeuer,
		Host:        host,
		Logger:      glog.Ensure(nil),
		MaxAttempts: 5,
		RetryDelay:  5 * time.Second,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Run processes jobs until the context ends or the dequeuer fails.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.Dequeuer == nil {
		return fmt.Errorf("bootstrap: worker requires a dequeuer")
	}
	for {
		if err := w.ProcessOne(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// ProcessOne handles a single delivery. Setup failures nack the delivery and
// never bubble up; only dequeue and ack/nack transport failures do.
func (w *Worker) ProcessOne(ctx context.Context) error {
	if w == nil || w.Dequeuer == nil {
		return fmt.Errorf("bootstrap: worker requires a dequeuer")
	}
	if w.Host == nil {
		return fmt.Errorf("bootstrap: worker requires a host")
	}

	delivery, err := w.Dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}

	msg := delivery.Message()
	if msg == nil || msg.JobID != SetupJobID {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     fmt.Sprintf("unexpected job %q", jobID),
		})
	}

	domain, _ := msg.Parameters["domain"].(string)
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return delivery.Nack(ctx, core.JobNackOptions{
			DeadLetter: true,
			Reason:     "setup job without domain",
		})
	}
	runID, _ := msg.Parameters["run_id"].(string)

	attempt := w.beginRun(ctx, runID)
	setupErr := w.Host.SetupDomain(ctx, domain)
	if setupErr == nil {
		w.completeRun(ctx, runID)
		return delivery.Ack(ctx)
	}

	w.logFailure(ctx, domain, runID, attempt, setupErr)
	requeue := attempt < w.maxAttempts()
	var next *time.Time
	if requeue {
		at := w.now().Add(w.retryDelay())
		next = &at
	}
	w.failRun(ctx, runID, setupErr, next)
	return delivery.Nack(ctx, core.JobNackOptions{
		Delay:      w.retryDelay(),
		Requeue:    requeue,
		DeadLetter: !requeue,
		Reason:     setupErr.Error(),
	})
}

func (w *Worker) beginRun(ctx context.Context, runID string) int {
	if w.Runs == nil || runID == "" {
		return 1
	}
	run, err := w.Runs.Begin(ctx, runID)
	if err != nil {
		w.logRunError(ctx, "bootstrap run begin failed", runID, err)
		return 1
	}
	return run.Attempts
}

func (w *Worker) completeRun(ctx context.Context, runID string) {
	if w.Runs == nil || runID == "" {
		return
	}
	if _, err := w.Runs.Complete(ctx, runID); err != nil {
		w.logRunError(ctx, "bootstrap run complete failed", runID, err)
	}
}

func (w *Worker) failRun(ctx context.Context, runID string, cause error, next *time.Time) {
	if w.Runs == nil || runID == "" {
		return
	}
	if _, err := w.Runs.Fail(ctx, runID, cause, next); err != nil {
		w.logRunError(ctx, "bootstrap run fail transition failed", runID, err)
	}
}

func (w *Worker) maxAttempts() int {
	if w != nil && w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return 5
}

func (w *Worker) retryDelay() time.Duration {
	if w != nil && w.RetryDelay > 0 {
		return w.RetryDelay
	}
	return 5 * time.Second
}

func (w *Worker) now() time.Time {
	if w != nil && w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *Worker) logFailure(ctx context.Context, domain string, runID string, attempt int, err error) {
	if w == nil || w.Logger == nil || err == nil {
		return
	}
	w.Logger.WithContext(ctx).Error("component setup failed",
		"domain", domain,
		"run_id", runID,
		"attempt", attempt,
		"error", err.Error(),
	)
}

func (w *Worker) logRunError(ctx context.Context, msg string, runID string, err error) {
	if w == nil || w.Logger == nil || err == nil {
		return
	}
	w.Logger.WithContext(ctx).Error(msg, "run_id", runID, "error", err.Error())
}
