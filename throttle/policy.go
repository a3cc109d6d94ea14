package throttle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

var ErrStateNotFound = errors.New("throttle: state not found")

// Key identifies one throttle bucket. Flows are throttled per domain and
// source so a discovery storm for one integration cannot starve another.
type Key struct {
	Domain string
	Source core.Source
}

type State struct {
	Key            Key
	Attempts       int
	ThrottledUntil *time.Time
	LastOutcome    core.FlowOutcome
	UpdatedAt      time.Time
	Metadata       map[string]any
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	Domain     string
	Source     core.Source
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"throttle: domain %q source %q throttled for %s",
		strings.TrimSpace(e.Domain),
		strings.TrimSpace(string(e.Source)),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToIntegrationError() *goerrors.Error {
	metadata := map[string]any{
		"domain": strings.TrimSpace(e.Domain),
		"source": strings.TrimSpace(string(e.Source)),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.IntegrationErrorThrottled).
		WithMetadata(metadata)
}

// AdaptivePolicy throttles flow initiation per bucket. Failed and aborted
// flows inside the window accumulate attempts; once MaxAttempts is exceeded
// each further failure extends the cooldown exponentially, and a created
// entry clears the bucket. User flows pass through untouched unless
// IncludeUserFlows is set.
type AdaptivePolicy struct {
	Store            StateStore
	Now              func() time.Time
	Window           time.Duration
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	IncludeUserFlows bool
	// OnError observes state store failures during AfterFinish, which never
	// fail the flow that produced the outcome.
	OnError func(error)
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		Window:         time.Minute,
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// FromConfig builds a policy from the flows.throttle configuration section.
// Zero valued durations and counts keep the policy defaults.
func FromConfig(store StateStore, cfg core.ThrottleConfig) *AdaptivePolicy {
	policy := NewAdaptivePolicy(store)
	if cfg.Window > 0 {
		policy.Window = cfg.Window
	}
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff > 0 {
		policy.InitialBackoff = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		policy.MaxBackoff = cfg.MaxBackoff
	}
	policy.IncludeUserFlows = cfg.IncludeUserFlows
	return policy
}

func (p *AdaptivePolicy) BeforeInit(ctx context.Context, domain string, source core.Source) error {
	if p == nil || p.Store == nil {
		return nil
	}
	if p.exempt(source) {
		return nil
	}
	state, err := p.Store.Get(ctx, normalizeKey(Key{Domain: domain, Source: source}))
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{Domain: state.Key.Domain, Source: state.Key.Source, RetryAfter: until.Sub(now)}
	}
	return nil
}

func (p *AdaptivePolicy) AfterFinish(ctx context.Context, domain string, source core.Source, outcome core.FlowOutcome) {
	if p == nil || p.Store == nil {
		return
	}
	if p.exempt(source) {
		return
	}
	key := normalizeKey(Key{Domain: domain, Source: source})
	state, err := p.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		p.reportError(err)
		return
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	now := p.now()
	if !state.UpdatedAt.IsZero() && now.Sub(state.UpdatedAt) > p.window() {
		state.Attempts = 0
		state.ThrottledUntil = nil
	}

	switch outcome {
	case core.FlowOutcomeCreated:
		state.Attempts = 0
		state.ThrottledUntil = nil
	default:
		state.Attempts++
		if excess := state.Attempts - p.maxAttempts(); excess > 0 {
			until := now.Add(p.nextBackoff(excess))
			state.ThrottledUntil = &until
		}
	}

	state.LastOutcome = outcome
	state.UpdatedAt = now
	if err := p.Store.Upsert(ctx, state); err != nil {
		p.reportError(err)
	}
}

func (p *AdaptivePolicy) exempt(source core.Source) bool {
	return source == core.SourceUser && !p.IncludeUserFlows
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) window() time.Duration {
	if p != nil && p.Window > 0 {
		return p.Window
	}
	return time.Minute
}

func (p *AdaptivePolicy) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 5
}

func (p *AdaptivePolicy) nextBackoff(excess int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	if excess <= 0 {
		return initial
	}
	delay := initial
	for i := 1; i < excess; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func (p *AdaptivePolicy) reportError(err error) {
	if p != nil && p.OnError != nil && err != nil {
		p.OnError(err)
	}
}

func normalizeKey(key Key) Key {
	return Key{
		Domain: strings.TrimSpace(strings.ToLower(key.Domain)),
		Source: core.Source(strings.TrimSpace(strings.ToLower(string(key.Source)))),
	}
}

func cloneMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("throttle: state store is nil")
	}
	normalized := normalizeKey(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[stateKey(normalized)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	state.Metadata = cloneMap(state.Metadata)
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("throttle: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	state.Metadata = cloneMap(state.Metadata)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stateKey(state.Key)] = state
	return nil
}

func stateKey(key Key) string {
	return key.Domain + "|" + string(key.Source)
}

var _ core.FlowThrottle = (*AdaptivePolicy)(nil)
