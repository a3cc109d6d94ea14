package secrets

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type stubSecretProvider struct {
	mu           sync.Mutex
	encryptErr   error
	decryptErr   error
	encryptCalls int
	decryptCalls int
}

func (s *stubSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptCalls++
	if s.encryptErr != nil {
		return nil, s.encryptErr
	}
	return append([]byte("stub:"), plaintext...), nil
}

func (s *stubSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decryptCalls++
	if s.decryptErr != nil {
		return nil, s.decryptErr
	}
	return bytes.TrimPrefix(ciphertext, []byte("stub:")), nil
}

type diagnosticRecorder struct {
	mu     sync.Mutex
	events []Diagnostic
}

func (r *diagnosticRecorder) hook(event Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *diagnosticRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Outcome)
	}
	return out
}

func TestFailoverProvider_StrictPolicyDoesNotTouchFallback(t *testing.T) {
	ctx := context.Background()
	primary := &stubSecretProvider{encryptErr: errors.New("key ring unavailable")}
	fallback := &stubSecretProvider{}

	provider, err := NewFailoverProvider(primary, WithFallbackProvider(fallback))
	if err != nil {
		t.Fatalf("new failover provider: %v", err)
	}

	_, err = provider.Encrypt(ctx, []byte("value"))
	if err == nil || !strings.Contains(err.Error(), "strict_fail") {
		t.Fatalf("expected strict policy failure, got %v", err)
	}
	if !errors.Is(err, primary.encryptErr) {
		t.Fatalf("expected wrapped primary error, got %v", err)
	}
	if fallback.encryptCalls != 0 {
		t.Fatalf("expected fallback untouched under strict policy, got %d calls", fallback.encryptCalls)
	}
}

func TestFailoverProvider_FallbackPolicyRecoversEncrypt(t *testing.T) {
	ctx := context.Background()
	primary := &stubSecretProvider{encryptErr: errors.New("key ring unavailable")}
	fallback, err := NewAppKeyProvider("fallback-key", map[string]string{"fallback-key": "fallback-material"})
	if err != nil {
		t.Fatalf("new fallback provider: %v", err)
	}
	recorder := &diagnosticRecorder{}

	provider, err := NewFailoverProvider(primary,
		WithFallbackProvider(fallback),
		WithFailurePolicy(FailurePolicyFallback),
		WithDiagnostics(recorder.hook),
	)
	if err != nil {
		t.Fatalf("new failover provider: %v", err)
	}

	ciphertext, err := provider.Encrypt(ctx, []byte("value"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plaintext, err := fallback.Decrypt(ctx, ciphertext)
	if err != nil {
		t.Fatalf("decrypt with fallback: %v", err)
	}
	if string(plaintext) != "value" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}

	outcomes := recorder.outcomes()
	if len(outcomes) != 2 || outcomes[0] != "primary_failed" || outcomes[1] != "fallback_succeeded" {
		t.Fatalf("unexpected diagnostic outcomes: %v", outcomes)
	}
	if keyID, version := provider.Metadata(); keyID != "fallback-key" || version != 1 {
		t.Fatalf("expected metadata from fallback sealer, got %s v%d", keyID, version)
	}
}

func TestFailoverProvider_FallbackPolicyRecoversDecrypt(t *testing.T) {
	ctx := context.Background()
	primary, err := NewAppKeyProvider("k1", map[string]string{"k1": "material-one"})
	if err != nil {
		t.Fatalf("new primary provider: %v", err)
	}
	fallback, err := NewAppKeyProvider("k2", map[string]string{"k2": "material-two"})
	if err != nil {
		t.Fatalf("new fallback provider: %v", err)
	}
	ciphertext, err := fallback.Encrypt(ctx, []byte("sealed by fallback"))
	if err != nil {
		t.Fatalf("seal with fallback: %v", err)
	}

	provider, err := NewFailoverProvider(primary,
		WithFallbackProvider(fallback),
		WithFailurePolicy(FailurePolicyFallback),
	)
	if err != nil {
		t.Fatalf("new failover provider: %v", err)
	}

	plaintext, err := provider.Decrypt(ctx, ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plaintext) != "sealed by fallback" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}
}

func TestFailoverProvider_FallbackFailureReportsBothErrors(t *testing.T) {
	ctx := context.Background()
	primary := &stubSecretProvider{decryptErr: errors.New("primary ring gone")}
	fallback := &stubSecretProvider{decryptErr: errors.New("fallback ring gone")}
	recorder := &diagnosticRecorder{}

	provider, err := NewFailoverProvider(primary,
		WithFallbackProvider(fallback),
		WithFailurePolicy(FailurePolicyFallback),
		WithDiagnostics(recorder.hook),
	)
	if err != nil {
		t.Fatalf("new failover provider: %v", err)
	}

	_, err = provider.Decrypt(ctx, []byte("ciphertext"))
	if err == nil {
		t.Fatalf("expected decrypt to fail")
	}
	if !strings.Contains(err.Error(), "primary ring gone") || !strings.Contains(err.Error(), "fallback ring gone") {
		t.Fatalf("expected both failures in error, got %v", err)
	}

	outcomes := recorder.outcomes()
	if len(outcomes) != 2 || outcomes[0] != "primary_failed" || outcomes[1] != "fallback_failed" {
		t.Fatalf("unexpected diagnostic outcomes: %v", outcomes)
	}
}

func TestFailoverProvider_PolicyNormalization(t *testing.T) {
	fallback := &stubSecretProvider{}
	provider, err := NewFailoverProvider(&stubSecretProvider{},
		WithFallbackProvider(fallback),
		WithFailurePolicy(" FALLBACK_ALLOWED "),
	)
	if err != nil {
		t.Fatalf("new failover provider: %v", err)
	}
	if provider.policy != FailurePolicyFallback {
		t.Fatalf("expected normalized fallback policy, got %q", provider.policy)
	}

	strict, err := NewFailoverProvider(&stubSecretProvider{}, WithFailurePolicy("bogus"))
	if err != nil {
		t.Fatalf("new strict provider: %v", err)
	}
	if strict.policy != FailurePolicyStrict {
		t.Fatalf("expected unknown policies to normalize to strict, got %q", strict.policy)
	}
}

func TestNewFailoverProvider_Validation(t *testing.T) {
	if _, err := NewFailoverProvider(nil); err == nil {
		t.Fatalf("expected nil primary to fail")
	}
	if _, err := NewFailoverProvider(&stubSecretProvider{}, WithFailurePolicy(FailurePolicyFallback)); err == nil {
		t.Fatalf("expected fallback policy without fallback provider to fail")
	}
}
