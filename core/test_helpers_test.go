package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T, cfg Config, options ...Option) *Service {
	t.Helper()
	opts := append([]Option{
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
	}, options...)
	svc, err := NewService(cfg, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func registerTestHandler(t *testing.T, svc *Service, domain string, handler Handler) {
	t.Helper()
	err := svc.Dependencies().Registry.Register(domain, func() Handler { return handler })
	if err != nil {
		t.Fatalf("register handler %s: %v", domain, err)
	}
}

type testHandler struct {
	version int
	schema  *DataSchema
	steps   map[string]StepFunc
}

func (h *testHandler) Version() int {
	if h.version == 0 {
		return 1
	}
	return h.version
}

func (h *testHandler) Schema() *DataSchema { return h.schema }

func (h *testHandler) Steps() map[string]StepFunc { return h.steps }

func formStep(title, stepID string, schema *DataSchema) StepFunc {
	return func(_ context.Context, fctx *FlowContext, _ map[string]any) (StepResult, error) {
		return fctx.ShowForm(title, stepID, schema, nil), nil
	}
}

func createStep(title string, data map[string]any) StepFunc {
	return func(_ context.Context, fctx *FlowContext, _ map[string]any) (StepResult, error) {
		return fctx.CreateEntry(title, data), nil
	}
}

func abortStep(reason string) StepFunc {
	return func(_ context.Context, fctx *FlowContext, _ map[string]any) (StepResult, error) {
		return fctx.AbortFlow(reason), nil
	}
}

type testComponent struct {
	mu           sync.Mutex
	setups       int
	unloads      int
	setupOK      bool
	setupErr     error
	setupPanic   bool
	unloadOK     bool
	unloadErr    error
	unloadPanic  bool
	onSetupEntry func(entry *Entry)
}

func newTestComponent() *testComponent {
	return &testComponent{setupOK: true, unloadOK: true}
}

func (c *testComponent) SetupEntry(_ context.Context, entry *Entry) (bool, error) {
	c.mu.Lock()
	c.setups++
	hook := c.onSetupEntry
	c.mu.Unlock()
	if hook != nil {
		hook(entry)
	}
	if c.setupPanic {
		panic("component setup exploded")
	}
	return c.setupOK, c.setupErr
}

func (c *testComponent) UnloadEntry(context.Context, *Entry) (bool, error) {
	c.mu.Lock()
	c.unloads++
	c.mu.Unlock()
	if c.unloadPanic {
		panic("component unload exploded")
	}
	return c.unloadOK, c.unloadErr
}

func (c *testComponent) setupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setups
}

func (c *testComponent) unloadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unloads
}

// setupOnlyComponent deliberately lacks the unload capability.
type setupOnlyComponent struct{}

func (setupOnlyComponent) SetupEntry(context.Context, *Entry) (bool, error) {
	return true, nil
}

type testHost struct {
	mu            sync.Mutex
	running       map[string]Component
	setupRequests []string
	onRequest     func(ctx context.Context, domain string) error
}

func newTestHost() *testHost {
	return &testHost{running: map[string]Component{}}
}

func (h *testHost) Running(domain string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.running[domain]
	return ok
}

func (h *testHost) RunningComponent(domain string) (Component, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	component, ok := h.running[domain]
	return component, ok
}

func (h *testHost) RequestSetup(ctx context.Context, domain string) error {
	h.mu.Lock()
	h.setupRequests = append(h.setupRequests, domain)
	hook := h.onRequest
	h.mu.Unlock()
	if hook != nil {
		return hook(ctx, domain)
	}
	return nil
}

func (h *testHost) setRunning(domain string, component Component) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running[domain] = component
}

func (h *testHost) requestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.setupRequests)
}

type testLoader struct {
	component Component
	onLoad    func(domain string)
}

func (l *testLoader) Load(_ context.Context, domain string) (Component, error) {
	if l.onLoad != nil {
		l.onLoad(domain)
	}
	if l.component == nil {
		return nil, fmt.Errorf("no component for domain %s", domain)
	}
	return l.component, nil
}

type testResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *testResolver) Resolve(context.Context, string, Component) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.err
}

func (r *testResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type testListener struct {
	mu      sync.Mutex
	added   []*Entry
	removed []*Entry
	changed []string
}

func (l *testListener) EntryAdded(_ context.Context, entry *Entry) {
	l.mu.Lock()
	l.added = append(l.added, entry)
	l.mu.Unlock()
}

func (l *testListener) EntryRemoved(_ context.Context, entry *Entry) {
	l.mu.Lock()
	l.removed = append(l.removed, entry)
	l.mu.Unlock()
}

func (l *testListener) EntryStateChanged(_ context.Context, entry *Entry, previous EntryState) {
	l.mu.Lock()
	l.changed = append(l.changed, fmt.Sprintf("%s:%s->%s", entry.EntryID, previous, entry.State))
	l.mu.Unlock()
}

func (l *testListener) changedEvents() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.changed...)
}

type testThrottle struct {
	mu       sync.Mutex
	blockErr error
	finished []string
}

func (th *testThrottle) BeforeInit(context.Context, string, Source) error {
	return th.blockErr
}

func (th *testThrottle) AfterFinish(_ context.Context, domain string, source Source, outcome FlowOutcome) {
	th.mu.Lock()
	th.finished = append(th.finished, fmt.Sprintf("%s/%s/%s", domain, source, outcome))
	th.mu.Unlock()
}

func (th *testThrottle) finishedCalls() []string {
	th.mu.Lock()
	defer th.mu.Unlock()
	return append([]string(nil), th.finished...)
}

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := string(ciphertext)
	if !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return cloneMap(l.values), nil
}

type failingRecordStore struct {
	loadErr error
	saveErr error
}

func (s *failingRecordStore) Load(context.Context) ([]EntryRecord, error) {
	return nil, s.loadErr
}

func (s *failingRecordStore) Save(context.Context, []EntryRecord) error {
	return s.saveErr
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
