package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type keyRingEntry struct {
	material []byte
	version  int
	window   KeyRotationWindow
}

// AppKeyProvider seals sensitive values with AES-256-GCM using a ring of
// application keys. New values are sealed with the active key; decryption
// resolves the sealing key from the envelope kid so rotated keys keep
// working for existing ciphertexts.
type AppKeyProvider struct {
	active string
	ring   map[string]keyRingEntry
	now    func() time.Time
}

type AppKeyOption func(*AppKeyProvider)

// WithKeyVersion pins the envelope ver field for a ring key. Unknown key
// ids are ignored.
func WithKeyVersion(keyID string, version int) AppKeyOption {
	return func(p *AppKeyProvider) {
		id := strings.TrimSpace(keyID)
		if id == "" || version <= 0 {
			return
		}
		if entry, ok := p.ring[id]; ok {
			entry.version = version
			p.ring[id] = entry
		}
	}
}

// WithRotationWindow bounds when a ring key may seal new values. Windows
// never gate decryption.
func WithRotationWindow(keyID string, window KeyRotationWindow) AppKeyOption {
	return func(p *AppKeyProvider) {
		id := strings.TrimSpace(keyID)
		if id == "" {
			return
		}
		if entry, ok := p.ring[id]; ok {
			entry.window = window
			p.ring[id] = entry
		}
	}
}

func WithClock(now func() time.Time) AppKeyOption {
	return func(p *AppKeyProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewAppKeyProvider builds a provider from a key ring. Keys may be raw
// strings or base64; material that is not exactly 16, 24, or 32 bytes is
// hashed to a 32 byte key.
func NewAppKeyProvider(activeKeyID string, keys map[string]string, opts ...AppKeyOption) (*AppKeyProvider, error) {
	active := strings.TrimSpace(activeKeyID)
	if active == "" {
		return nil, fmt.Errorf("secrets: active key id is required")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("secrets: key ring is required")
	}

	ring := make(map[string]keyRingEntry, len(keys))
	for id, material := range keys {
		trimmedID := strings.TrimSpace(id)
		if trimmedID == "" {
			return nil, fmt.Errorf("secrets: key ring contains a blank key id")
		}
		decoded := decodeKeyMaterial(material)
		if len(decoded) == 0 {
			return nil, fmt.Errorf("secrets: key %q has no material", trimmedID)
		}
		ring[trimmedID] = keyRingEntry{material: normalizeKey(decoded), version: 1}
	}
	if _, ok := ring[active]; !ok {
		return nil, fmt.Errorf("secrets: active key %q is not in the key ring", active)
	}

	provider := &AppKeyProvider{
		active: active,
		ring:   ring,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider, nil
}

// FromConfig builds the provider described by the secrets configuration.
// Disabled configurations yield a nil provider and no error so callers can
// skip sealing entirely.
func FromConfig(cfg core.SecretsConfig, opts ...AppKeyOption) (*AppKeyProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return NewAppKeyProvider(cfg.ActiveKeyID, cfg.Keys, opts...)
}

func (p *AppKeyProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("secrets: app key provider is not configured")
	}
	entry := p.ring[p.active]
	if !entry.window.Allows(p.now()) {
		return nil, fmt.Errorf("secrets: active key %q is outside its rotation window", p.active)
	}

	gcm, err := p.cipherFor(entry)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return encodeEnvelope(envelope{
		KeyID:      p.active,
		Version:    entry.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      encodeCiphertextPayload(nonce),
		Ciphertext: encodeCiphertextPayload(sealed),
	})
}

func (p *AppKeyProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("secrets: app key provider is not configured")
	}
	env, _, err := decodeEnvelope(ciphertext, true)
	if err != nil {
		return nil, err
	}
	if env.Algorithm != "" && env.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("secrets: unsupported envelope algorithm %q", env.Algorithm)
	}

	keyID := env.KeyID
	if keyID == "" {
		keyID = p.active
	}
	entry, ok := p.ring[keyID]
	if !ok {
		return nil, fmt.Errorf("secrets: unknown envelope key id %q", keyID)
	}
	if env.Version > 0 && env.Version != entry.version {
		return nil, fmt.Errorf("secrets: key version mismatch for %q: envelope has %d, ring has %d", keyID, env.Version, entry.version)
	}

	gcm, err := p.cipherFor(entry)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeCiphertextPayload(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode nonce: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("secrets: invalid nonce length %d", len(nonce))
	}
	sealed, err := decodeCiphertextPayload(env.Ciphertext)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt envelope: %w", err)
	}
	return plaintext, nil
}

// KeyID reports the active sealing key id.
func (p *AppKeyProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.active
}

// Version reports the active sealing key version.
func (p *AppKeyProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.ring[p.active].version
}

// Metadata reports the active key id and version for diagnostics.
func (p *AppKeyProvider) Metadata() (string, int) {
	return p.KeyID(), p.Version()
}

func (p *AppKeyProvider) cipherFor(entry keyRingEntry) (cipher.AEAD, error) {
	block, err := aes.NewCipher(entry.material)
	if err != nil {
		return nil, fmt.Errorf("secrets: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: build gcm: %w", err)
	}
	return gcm, nil
}

func decodeKeyMaterial(value string) []byte {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil && len(decoded) > 0 {
		return decoded
	}
	return []byte(trimmed)
}

func normalizeKey(key []byte) []byte {
	switch len(key) {
	case 16, 24, 32:
		out := make([]byte, len(key))
		copy(out, key)
		return out
	default:
		sum := sha256.Sum256(key)
		return sum[:]
	}
}

var _ core.SecretProvider = (*AppKeyProvider)(nil)
