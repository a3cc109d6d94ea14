package gologger

import (
	"context"
	"slices"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestForWorker_ProviderPrecedenceAndBridging(t *testing.T) {
	directLogger := &sinkLogger{id: "direct"}
	providerLogger := &sinkLogger{id: "provider"}
	provider := &sinkProvider{logger: providerLogger}

	_, resolved, jobProvider, jobLogger := ForWorker("integrations", provider, directLogger)
	if resolved.(*sinkLogger).id != "provider" {
		t.Fatalf("expected the provider logger to win, got %q", resolved.(*sinkLogger).id)
	}
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job bridges for a resolved stack")
	}

	bridged := jobProvider.GetLogger("integrations")
	bridged.Info("setup queued", "domain", "hue")
	if providerLogger.lastMsg != "setup queued" {
		t.Fatalf("expected the bridged call to land on the glog logger, got %q", providerLogger.lastMsg)
	}
	if len(providerLogger.lastArgs) != 2 || providerLogger.lastArgs[0] != "domain" || providerLogger.lastArgs[1] != "hue" {
		t.Fatalf("expected bridged args, got %#v", providerLogger.lastArgs)
	}
}

func TestForWorker_FallbackChain(t *testing.T) {
	directLogger := &sinkLogger{id: "direct"}

	resolvedProvider, resolved, _, _ := ForWorker("integrations", nil, directLogger)
	if resolved.(*sinkLogger).id != "direct" {
		t.Fatalf("expected the direct logger when no provider is wired")
	}
	if resolvedProvider == nil {
		t.Fatalf("expected a provider wrapper derived from the logger")
	}

	_, resolved, jobProvider, jobLogger := ForWorker("integrations", nil, nil)
	if resolved == nil {
		t.Fatalf("expected the nop fallback logger")
	}
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job bridges even for the nop fallback")
	}
}

func TestBridges_PassNilThrough(t *testing.T) {
	if BridgeProvider(nil) != nil {
		t.Fatalf("expected a nil provider to stay nil")
	}
	if BridgeLogger(nil) != nil {
		t.Fatalf("expected a nil logger to stay nil")
	}
}

var (
	_ glog.Logger         = (*sinkLogger)(nil)
	_ glog.LoggerProvider = (*sinkProvider)(nil)
)

// sinkProvider hands out its one logger, falling back to the nop logger when
// unset so resolution never observes a nil.
type sinkProvider struct {
	logger *sinkLogger
}

func (p *sinkProvider) GetLogger(string) glog.Logger {
	if p != nil && p.logger != nil {
		return p.logger
	}
	return glog.Nop()
}

// sinkLogger records the last Info call so tests can assert what crossed
// the bridge.
type sinkLogger struct {
	id       string
	lastMsg  string
	lastArgs []any
}

func (l *sinkLogger) Trace(string, ...any) {}
func (l *sinkLogger) Debug(string, ...any) {}
func (l *sinkLogger) Warn(string, ...any)  {}
func (l *sinkLogger) Error(string, ...any) {}
func (l *sinkLogger) Fatal(string, ...any) {}

func (l *sinkLogger) Info(msg string, args ...any) {
	l.lastMsg = msg
	l.lastArgs = slices.Clone(args)
}

func (l *sinkLogger) WithContext(context.Context) glog.Logger { return l }
