package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"sync"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-integrations/core"
)

const (
	// SetupJobID names the queued component setup handoff.
	SetupJobID = "integrations.component.setup"

	// DedupPolicyDropNewest collapses concurrent handoffs for one domain into
	// the oldest queued job. A started component sets up every entry of its
	// domain, so one queued job covers all of them.
	DedupPolicyDropNewest = "drop_newest"
)

// Host tracks running integration components and accepts setup handoffs from
// the entry collection. With an enqueuer wired, RequestSetup queues a deduped
// setup job and returns immediately; without one it degrades to a synchronous
// in-process setup.
type Host struct {
	mu         sync.RWMutex
	components map[string]core.Component

	service  *core.Service
	loader   core.ComponentLoader
	enqueuer core.JobEnqueuer
	runs     *Orchestrator
	logger   core.Logger
}

type HostOption func(*Host)

func WithEnqueuer(enqueuer core.JobEnqueuer) HostOption {
	return func(h *Host) {
		h.enqueuer = enqueuer
	}
}

func WithOrchestrator(runs *Orchestrator) HostOption {
	return func(h *Host) {
		h.runs = runs
	}
}

func WithLoader(loader core.ComponentLoader) HostOption {
	return func(h *Host) {
		h.loader = loader
	}
}

func WithLogger(logger core.Logger) HostOption {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHost(opts ...HostOption) *Host {
	host := &Host{
		components: map[string]core.Component{},
		logger:     glog.Ensure(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(host)
		}
	}
	return host
}

// Bind attaches the entry service the host sets entries up against. The host
// is handed to the service as an option before the service exists, so the
// back reference arrives late.
func (h *Host) Bind(service *core.Service) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.service = service
}

// MarkRunning records a component as booted and ready for direct setup calls.
func (h *Host) MarkRunning(domain string, component core.Component) {
	if h == nil || component == nil {
		return
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[domain] = component
}

func (h *Host) Running(domain string) bool {
	_, ok := h.RunningComponent(domain)
	return ok
}

func (h *Host) RunningComponent(domain string) (core.Component, bool) {
	if h == nil {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	component, ok := h.components[strings.TrimSpace(domain)]
	return component, ok
}

// RequestSetup hands off component setup for domain. The queued path relies
// on idempotency keyed dedup so a burst of added entries produces one job.
func (h *Host) RequestSetup(ctx context.Context, domain string) error {
	if h == nil {
		return fmt.Errorf("bootstrap: host is not configured")
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return fmt.Errorf("bootstrap: domain is required")
	}

	if h.enqueuer == nil {
		return h.setupSynchronously(ctx, domain)
	}

	run, err := h.startRun(ctx, domain)
	if err != nil {
		return err
	}

	parameters := map[string]any{"domain": domain}
	if run.ID != "" {
		parameters["run_id"] = run.ID
	}
	msg := &core.JobExecutionMessage{
		JobID:          SetupJobID,
		Parameters:     parameters,
		IdempotencyKey: domain,
		DedupPolicy:    DedupPolicyDropNewest,
	}
	if err := h.enqueuer.Enqueue(ctx, msg); err != nil {
		h.failRun(ctx, run.ID, err)
		return fmt.Errorf("bootstrap: enqueue setup for %s: %w", domain, err)
	}
	return nil
}

// SetupDomain boots the component for domain if needed and runs setup for
// every pending entry of that domain. Safe to call repeatedly; an already
// running component just retries its pending entries.
func (h *Host) SetupDomain(ctx context.Context, domain string) error {
	if h == nil {
		return fmt.Errorf("bootstrap: host is not configured")
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return fmt.Errorf("bootstrap: domain is required")
	}

	service := h.boundService()
	if service == nil {
		return fmt.Errorf("bootstrap: host is not bound to an entry service")
	}

	component, ok := h.RunningComponent(domain)
	if !ok {
		loader := h.resolveLoader(service)
		if loader == nil {
			return fmt.Errorf("bootstrap: no component loader available for %s", domain)
		}
		loaded, err := loader.Load(ctx, domain)
		if err != nil {
			return fmt.Errorf("bootstrap: load component %s: %w", domain, err)
		}
		if loaded == nil {
			return fmt.Errorf("bootstrap: loader returned no component for %s", domain)
		}
		component = loaded
		h.MarkRunning(domain, component)
	}

	return service.SetupDomainEntries(ctx, domain, component)
}

func (h *Host) setupSynchronously(ctx context.Context, domain string) error {
	run, err := h.startRun(ctx, domain)
	if err != nil {
		return err
	}
	h.beginRun(ctx, run.ID)

	if setupErr := h.SetupDomain(ctx, domain); setupErr != nil {
		h.failRun(ctx, run.ID, setupErr)
		return setupErr
	}
	h.completeRun(ctx, run.ID)
	return nil
}

func (h *Host) startRun(ctx context.Context, domain string) (Run, error) {
	if h.runs == nil {
		return Run{}, nil
	}
	run, err := h.runs.Start(ctx, domain, nil)
	if err != nil {
		return Run{}, fmt.Errorf("bootstrap: record setup run for %s: %w", domain, err)
	}
	return run, nil
}

func (h *Host) beginRun(ctx context.Context, runID string) {
	if h.runs == nil || runID == "" {
		return
	}
	if _, err := h.runs.Begin(ctx, runID); err != nil {
		h.logError(ctx, "bootstrap run begin failed", runID, err)
	}
}

func (h *Host) completeRun(ctx context.Context, runID string) {
	if h.runs == nil || runID == "" {
		return
	}
	if _, err := h.runs.Complete(ctx, runID); err != nil {
		h.logError(ctx, "bootstrap run complete failed", runID, err)
	}
}

func (h *Host) failRun(ctx context.Context, runID string, cause error) {
	if h.runs == nil || runID == "" {
		return
	}
	if _, err := h.runs.Fail(ctx, runID, cause, nil); err != nil {
		h.logError(ctx, "bootstrap run fail transition failed", runID, err)
	}
}

func (h *Host) boundService() *core.Service {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.service
}

func (h *Host) resolveLoader(service *core.Service) core.ComponentLoader {
	if h.loader != nil {
		return h.loader
	}
	if service == nil {
		return nil
	}
	return service.Dependencies().ComponentLoader
}

func (h *Host) logError(ctx context.Context, msg string, runID string, err error) {
	if h == nil || h.logger == nil || err == nil {
		return
	}
	h.logger.WithContext(ctx).Error(msg, "run_id", runID, "error", err.Error())
}

var _ core.ComponentHost = (*Host)(nil)
