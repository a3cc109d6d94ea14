package secrets

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type FailurePolicy string

const (
	FailurePolicyStrict   FailurePolicy = "strict_fail"
	FailurePolicyFallback FailurePolicy = "fallback_allowed"
)

// Diagnostic describes a failover event. Hooks receive one event per
// primary failure and one per fallback attempt.
type Diagnostic struct {
	OccurredAt time.Time
	Operation  string
	Policy     FailurePolicy
	Outcome    string
	Primary    string
	Fallback   string
	Error      string
}

type DiagnosticHook func(event Diagnostic)

type FailoverOption func(*FailoverProvider)

type sealingMetadata struct {
	KeyID   string
	Version int
}

// FailoverProvider wraps a primary sealing provider so entry payloads stay
// readable and writable when a key ring is misconfigured or a provider is
// unavailable. The strict policy surfaces primary failures; the fallback
// policy retries the operation against a secondary provider.
type FailoverProvider struct {
	primary        core.SecretProvider
	fallback       core.SecretProvider
	policy         FailurePolicy
	diagnosticHook DiagnosticHook
	now            func() time.Time

	mu          sync.RWMutex
	lastSealing sealingMetadata
}

func NewFailoverProvider(primary core.SecretProvider, opts ...FailoverOption) (*FailoverProvider, error) {
	if primary == nil {
		return nil, fmt.Errorf("secrets: primary secret provider is required")
	}
	provider := &FailoverProvider{
		primary: primary,
		policy:  FailurePolicyStrict,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	provider.policy = normalizeFailurePolicy(provider.policy)
	if provider.policy == FailurePolicyFallback && provider.fallback == nil {
		return nil, fmt.Errorf("secrets: fallback policy requires a configured fallback secret provider")
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	provider.noteSealingProvider(provider.primary)
	return provider, nil
}

func WithFallbackProvider(provider core.SecretProvider) FailoverOption {
	return func(f *FailoverProvider) {
		if f == nil {
			return
		}
		f.fallback = provider
	}
}

func WithFailurePolicy(policy FailurePolicy) FailoverOption {
	return func(f *FailoverProvider) {
		if f == nil {
			return
		}
		f.policy = normalizeFailurePolicy(policy)
	}
}

func WithDiagnostics(hook DiagnosticHook) FailoverOption {
	return func(f *FailoverProvider) {
		if f == nil {
			return
		}
		f.diagnosticHook = hook
	}
}

func WithFailoverClock(now func() time.Time) FailoverOption {
	return func(f *FailoverProvider) {
		if f == nil {
			return
		}
		f.now = now
	}
}

func (p *FailoverProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("secrets: failover provider is not configured")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("secrets: plaintext is required")
	}
	ciphertext, err := p.primary.Encrypt(ctx, plaintext)
	if err == nil {
		p.noteSealingProvider(p.primary)
		return ciphertext, nil
	}
	p.emit("encrypt", "primary_failed", err)
	if p.policy == FailurePolicyStrict || p.fallback == nil {
		return nil, fmt.Errorf("secrets: primary encrypt failed with %s policy: %w", p.policy, err)
	}
	fallbackCiphertext, fallbackErr := p.fallback.Encrypt(ctx, plaintext)
	if fallbackErr != nil {
		p.emit("encrypt", "fallback_failed", fallbackErr)
		return nil, fmt.Errorf("secrets: primary encrypt failed: %v; fallback encrypt failed: %w", err, fallbackErr)
	}
	p.noteSealingProvider(p.fallback)
	p.emit("encrypt", "fallback_succeeded", err)
	return fallbackCiphertext, nil
}

func (p *FailoverProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("secrets: failover provider is not configured")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("secrets: ciphertext is required")
	}
	plaintext, err := p.primary.Decrypt(ctx, ciphertext)
	if err == nil {
		return plaintext, nil
	}
	p.emit("decrypt", "primary_failed", err)
	if p.policy == FailurePolicyStrict || p.fallback == nil {
		return nil, fmt.Errorf("secrets: primary decrypt failed with %s policy: %w", p.policy, err)
	}
	fallbackPlaintext, fallbackErr := p.fallback.Decrypt(ctx, ciphertext)
	if fallbackErr != nil {
		p.emit("decrypt", "fallback_failed", fallbackErr)
		return nil, fmt.Errorf("secrets: primary decrypt failed: %v; fallback decrypt failed: %w", err, fallbackErr)
	}
	p.emit("decrypt", "fallback_succeeded", err)
	return fallbackPlaintext, nil
}

// Metadata reports the key id and version of the provider that sealed most
// recently, falling back to whichever wrapped provider exposes metadata.
func (p *FailoverProvider) Metadata() (string, int) {
	if p == nil {
		return "", 0
	}
	p.mu.RLock()
	last := p.lastSealing
	p.mu.RUnlock()
	if strings.TrimSpace(last.KeyID) != "" && last.Version > 0 {
		return last.KeyID, last.Version
	}
	if keyID, version, ok := readProviderMetadata(p.primary); ok {
		return keyID, version
	}
	if keyID, version, ok := readProviderMetadata(p.fallback); ok {
		return keyID, version
	}
	return "", 0
}

func (p *FailoverProvider) emit(operation string, outcome string, err error) {
	if p == nil || p.diagnosticHook == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.diagnosticHook(Diagnostic{
		OccurredAt: p.now().UTC(),
		Operation:  operation,
		Policy:     p.policy,
		Outcome:    outcome,
		Primary:    describeSecretProvider(p.primary),
		Fallback:   describeSecretProvider(p.fallback),
		Error:      msg,
	})
}

func (p *FailoverProvider) noteSealingProvider(provider core.SecretProvider) {
	if p == nil {
		return
	}
	keyID, version, ok := readProviderMetadata(provider)
	if !ok {
		return
	}
	p.mu.Lock()
	p.lastSealing = sealingMetadata{KeyID: keyID, Version: version}
	p.mu.Unlock()
}

func normalizeFailurePolicy(policy FailurePolicy) FailurePolicy {
	normalized := FailurePolicy(strings.ToLower(strings.TrimSpace(string(policy))))
	switch normalized {
	case FailurePolicyFallback:
		return FailurePolicyFallback
	default:
		return FailurePolicyStrict
	}
}

func readProviderMetadata(provider core.SecretProvider) (string, int, bool) {
	if provider == nil {
		return "", 0, false
	}
	metadataProvider, ok := provider.(interface{ Metadata() (string, int) })
	if !ok {
		return "", 0, false
	}
	keyID, version := metadataProvider.Metadata()
	keyID = strings.TrimSpace(keyID)
	if keyID == "" || version <= 0 {
		return "", 0, false
	}
	return keyID, version, true
}

func describeSecretProvider(provider core.SecretProvider) string {
	if provider == nil {
		return ""
	}
	label := reflect.TypeOf(provider).String()
	if keyID, version, ok := readProviderMetadata(provider); ok {
		return fmt.Sprintf("%s(%s:%d)", label, keyID, version)
	}
	return label
}

var _ core.SecretProvider = (*FailoverProvider)(nil)
