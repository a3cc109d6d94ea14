package filestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const (
	defaultFileMode = os.FileMode(0o600)

	// sealedPrefix marks encrypted values inside a persisted record's data
	// map. Plaintext values (pre-encryption files) lack this prefix.
	sealedPrefix = "enc:v1:"
)

// Store persists the entry collection as a single JSON array on disk. Save
// replaces the whole file through a temp-file rename so a crash mid-write
// never leaves a truncated collection behind.
//
// When a secret provider is configured, fields reported as sensitive for a
// record's domain are encrypted before they touch disk and decrypted on load.
type Store struct {
	path            string
	fileMode        os.FileMode
	secrets         core.SecretProvider
	sensitiveFields func(domain string) []string
}

// Option mutates the store during construction.
type Option func(*Store)

// WithFileMode sets the permission bits applied to the persisted file.
func WithFileMode(mode os.FileMode) Option {
	return func(s *Store) {
		if mode != 0 {
			s.fileMode = mode
		}
	}
}

// WithSecretProvider enables at-rest encryption of sensitive data fields.
func WithSecretProvider(provider core.SecretProvider) Option {
	return func(s *Store) {
		s.secrets = provider
	}
}

// WithSensitiveFields registers the lookup that names which data fields of a
// domain hold secrets. Domains without an entry are persisted as-is.
func WithSensitiveFields(lookup func(domain string) []string) Option {
	return func(s *Store) {
		s.sensitiveFields = lookup
	}
}

// New builds a file-backed record store rooted at path.
func New(path string, opts ...Option) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("filestore: path is required")
	}

	store := &Store{
		path:     trimmed,
		fileMode: defaultFileMode,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Load reads the persisted collection. A missing or empty file yields an
// empty collection, not an error.
func (s *Store) Load(ctx context.Context) ([]core.EntryRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("filestore: store is not configured")
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var records []core.EntryRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", s.path, err)
	}

	for i := range records {
		if err := s.unsealRecord(ctx, &records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Save atomically replaces the persisted collection.
func (s *Store) Save(ctx context.Context, records []core.EntryRecord) error {
	if s == nil {
		return fmt.Errorf("filestore: store is not configured")
	}

	out := make([]core.EntryRecord, len(records))
	copy(out, records)
	for i := range out {
		sealed, err := s.sealRecord(ctx, out[i])
		if err != nil {
			return err
		}
		out[i] = sealed
	}

	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode records: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("filestore: create %s: %w", dir, err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, payload, s.fileMode); err != nil {
		return fmt.Errorf("filestore: write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: replace %s: %w", s.path, err)
	}
	return nil
}

// Path reports where the collection is persisted.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) sealRecord(ctx context.Context, record core.EntryRecord) (core.EntryRecord, error) {
	fields := s.fieldsFor(record.Domain)
	if s.secrets == nil || len(fields) == 0 || len(record.Data) == 0 {
		return record, nil
	}

	data := make(map[string]any, len(record.Data))
	for key, value := range record.Data {
		data[key] = value
	}
	for _, field := range fields {
		value, ok := data[field]
		if !ok {
			continue
		}
		sealed, err := s.sealValue(ctx, value)
		if err != nil {
			return core.EntryRecord{}, fmt.Errorf("filestore: seal %s.%s for entry %s: %w", record.Domain, field, record.EntryID, err)
		}
		data[field] = sealed
	}
	record.Data = data
	return record, nil
}

func (s *Store) unsealRecord(ctx context.Context, record *core.EntryRecord) error {
	fields := s.fieldsFor(record.Domain)
	if len(fields) == 0 || len(record.Data) == 0 {
		return nil
	}

	for _, field := range fields {
		raw, ok := record.Data[field].(string)
		if !ok || !strings.HasPrefix(raw, sealedPrefix) {
			// Plaintext value from before encryption was enabled. It gets
			// sealed on the next save.
			continue
		}
		if s.secrets == nil {
			return fmt.Errorf("filestore: entry %s field %s is encrypted but no secret provider is configured", record.EntryID, field)
		}
		value, err := s.unsealValue(ctx, raw)
		if err != nil {
			return fmt.Errorf("filestore: unseal %s.%s for entry %s: %w", record.Domain, field, record.EntryID, err)
		}
		record.Data[field] = value
	}
	return nil
}

func (s *Store) sealValue(ctx context.Context, value any) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	ciphertext, err := s.secrets.Encrypt(ctx, plaintext)
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) unsealValue(ctx context.Context, stored string) (any, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return nil, err
	}
	plaintext, err := s.secrets.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(plaintext, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) fieldsFor(domain string) []string {
	if s == nil || s.sensitiveFields == nil {
		return nil
	}
	return s.sensitiveFields(domain)
}

var _ core.EntryRecordStore = (*Store)(nil)
