package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ClaimStatusProcessing = "processing"
	ClaimStatusCompleted  = "completed"
	ClaimStatusRetryReady = "retry_ready"
	ClaimStatusDead       = "dead"
)

// ErrClaimNotFound reports a claim token the ledger no longer honors,
// usually because the lease expired and another worker re-claimed the
// announcement.
var ErrClaimNotFound = errors.New("discovery: claim not found")

// Claim is one announcement's dedupe record. ID is stable for the
// announcement; ClaimID rotates on every successful claim so a worker that
// lost its lease cannot complete or fail someone else's attempt.
type Claim struct {
	ID             string
	ClaimID        string
	Domain         string
	AnnouncementID string
	Status         string
	Attempts       int
	LeaseExpiresAt time.Time
	NextAttemptAt  *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Ledger dedupes announcements. Claim returns claimed=false when the
// announcement is already owned, completed, or dead; callers acknowledge
// those without starting another flow.
type Ledger interface {
	Claim(ctx context.Context, domain string, announcementID string, lease time.Duration) (Claim, bool, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

type ledgerEntry struct {
	claim Claim
}

// MemoryLedger keeps claims in process memory. Suitable for single node
// hosts and tests; multi node deployments want a shared ledger behind the
// same interface.
type MemoryLedger struct {
	now func() time.Time

	mu      sync.Mutex
	byKey   map[string]*ledgerEntry
	byClaim map[string]*ledgerEntry
}

type MemoryLedgerOption func(*MemoryLedger)

func WithLedgerClock(now func() time.Time) MemoryLedgerOption {
	return func(l *MemoryLedger) {
		if now != nil {
			l.now = now
		}
	}
}

func NewMemoryLedger(opts ...MemoryLedgerOption) *MemoryLedger {
	ledger := &MemoryLedger{
		now:     func() time.Time { return time.Now().UTC() },
		byKey:   map[string]*ledgerEntry{},
		byClaim: map[string]*ledgerEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ledger)
		}
	}
	return ledger
}

func (l *MemoryLedger) Claim(_ context.Context, domain string, announcementID string, lease time.Duration) (Claim, bool, error) {
	if l == nil {
		return Claim{}, false, errors.New("discovery: ledger is not configured")
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	announcementID = strings.TrimSpace(announcementID)
	if domain == "" || announcementID == "" {
		return Claim{}, false, errors.New("discovery: domain and announcement id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}

	now := l.now().UTC()
	key := domain + ":" + announcementID

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byKey[key]
	if !ok {
		claim := Claim{
			ID:             uuid.NewString(),
			ClaimID:        uuid.NewString(),
			Domain:         domain,
			AnnouncementID: announcementID,
			Status:         ClaimStatusProcessing,
			Attempts:       1,
			LeaseExpiresAt: now.Add(lease),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		entry = &ledgerEntry{claim: claim}
		l.byKey[key] = entry
		l.byClaim[claim.ClaimID] = entry
		return claim, true, nil
	}

	switch entry.claim.Status {
	case ClaimStatusCompleted, ClaimStatusDead:
		return entry.claim, false, nil
	case ClaimStatusProcessing:
		if now.Before(entry.claim.LeaseExpiresAt) {
			return entry.claim, false, nil
		}
	case ClaimStatusRetryReady:
		if entry.claim.NextAttemptAt != nil && now.Before(*entry.claim.NextAttemptAt) {
			return entry.claim, false, nil
		}
	default:
		return entry.claim, false, nil
	}

	// Lease expired or retry due: hand the announcement to this caller
	// under a fresh claim token.
	delete(l.byClaim, entry.claim.ClaimID)
	entry.claim.ClaimID = uuid.NewString()
	entry.claim.Status = ClaimStatusProcessing
	entry.claim.Attempts++
	entry.claim.LeaseExpiresAt = now.Add(lease)
	entry.claim.NextAttemptAt = nil
	entry.claim.UpdatedAt = now
	l.byClaim[entry.claim.ClaimID] = entry
	return entry.claim, true, nil
}

func (l *MemoryLedger) Complete(_ context.Context, claimID string) error {
	if l == nil {
		return errors.New("discovery: ledger is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return errors.New("discovery: claim id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byClaim[claimID]
	if !ok || entry.claim.ClaimID != claimID {
		return ErrClaimNotFound
	}
	entry.claim.Status = ClaimStatusCompleted
	entry.claim.UpdatedAt = l.now().UTC()
	return nil
}

func (l *MemoryLedger) Fail(_ context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	if l == nil {
		return errors.New("discovery: ledger is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return errors.New("discovery: claim id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byClaim[claimID]
	if !ok || entry.claim.ClaimID != claimID {
		return ErrClaimNotFound
	}
	if cause != nil {
		entry.claim.LastError = cause.Error()
	}
	now := l.now().UTC()
	if maxAttempts > 0 && entry.claim.Attempts >= maxAttempts {
		entry.claim.Status = ClaimStatusDead
		entry.claim.NextAttemptAt = nil
	} else {
		entry.claim.Status = ClaimStatusRetryReady
		at := nextAttemptAt.UTC()
		entry.claim.NextAttemptAt = &at
	}
	entry.claim.UpdatedAt = now
	return nil
}

// Get reports the claim for an announcement. Introspection only; the
// processor never reads back claims.
func (l *MemoryLedger) Get(_ context.Context, domain string, announcementID string) (Claim, error) {
	if l == nil {
		return Claim{}, errors.New("discovery: ledger is not configured")
	}
	key := strings.ToLower(strings.TrimSpace(domain)) + ":" + strings.TrimSpace(announcementID)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byKey[key]
	if !ok {
		return Claim{}, ErrClaimNotFound
	}
	return entry.claim, nil
}

var _ Ledger = (*MemoryLedger)(nil)
