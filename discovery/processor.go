package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

// Announcement is one raw discovery hit: a device or service noticed on
// the network that may deserve an integration entry.
type Announcement struct {
	Domain         string
	AnnouncementID string
	Payload        map[string]any
	Metadata       map[string]any
}

const (
	OutcomeStarted           = "started"
	OutcomeDeduped           = "deduped"
	OutcomeAlreadyInProgress = "already_in_progress"
	OutcomeBurstLimited      = "burst_limited"
)

// Result reports what an announcement produced. Outcome is always set;
// FlowID and EntryID only when a flow actually ran.
type Result struct {
	Outcome  string
	FlowID   string
	EntryID  string
	Metadata map[string]any
}

// FlowStarter begins a flow for a claimed announcement. Hosts bind this to
// the command bus so accepted announcements travel the same write path as
// user initiated flows.
type FlowStarter interface {
	StartFlow(ctx context.Context, domain string, source core.Source, data map[string]any) (*core.FlowResult, error)
}

type FlowStarterFunc func(ctx context.Context, domain string, source core.Source, data map[string]any) (*core.FlowResult, error)

func (f FlowStarterFunc) StartFlow(ctx context.Context, domain string, source core.Source, data map[string]any) (*core.FlowResult, error) {
	return f(ctx, domain, source, data)
}

// ProgressReader reports in-progress flows for one domain. A FlowManager
// satisfies it directly.
type ProgressReader interface {
	ProgressForDomain(domain string) []core.ProgressRecord
}

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
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

// Processor turns announcements into discovery sourced flows, exactly one
// flow per announcement id. Duplicates, bursts, and domains with a
// discovery flow already open are acknowledged without starting another.
type Processor struct {
	Ledger      Ledger
	Burst       BurstController
	Starter     FlowStarter
	Flows       ProgressReader
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func NewProcessor(ledger Ledger, starter FlowStarter) *Processor {
	return &Processor{
		Ledger:      ledger,
		Starter:     starter,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, ann Announcement) (Result, error) {
	if p == nil || p.Ledger == nil || p.Starter == nil {
		return Result{}, fmt.Errorf("discovery: processor requires ledger and starter")
	}

	domain := strings.ToLower(strings.TrimSpace(ann.Domain))
	if domain == "" {
		return Result{}, fmt.Errorf("discovery: announcement domain is required")
	}
	announcementID := strings.TrimSpace(ann.AnnouncementID)
	if announcementID == "" {
		return Result{}, fmt.Errorf("discovery: announcement id is required")
	}

	claim, claimed, err := p.Ledger.Claim(ctx, domain, announcementID, p.claimLease())
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{
			Outcome: OutcomeDeduped,
			Metadata: map[string]any{
				"domain":          domain,
				"announcement_id": announcementID,
				"claim_status":    claim.Status,
				"deduped":         true,
			},
		}, nil
	}

	if p.Burst != nil {
		decision, burstErr := p.Burst.Allow(ctx, ann)
		if burstErr != nil {
			return Result{}, burstErr
		}
		if !decision.Allow {
			if markErr := p.Ledger.Complete(ctx, claim.ClaimID); markErr != nil {
				return Result{}, markErr
			}
			metadata := ensureMetadata(decision.Metadata)
			metadata["domain"] = domain
			metadata["announcement_id"] = announcementID
			return Result{Outcome: OutcomeBurstLimited, Metadata: metadata}, nil
		}
	}

	if p.Flows != nil {
		for _, record := range p.Flows.ProgressForDomain(domain) {
			if record.Source != core.SourceDiscovery {
				continue
			}
			if markErr := p.Ledger.Complete(ctx, claim.ClaimID); markErr != nil {
				return Result{}, markErr
			}
			return Result{
				Outcome: OutcomeAlreadyInProgress,
				FlowID:  record.FlowID,
				Metadata: map[string]any{
					"domain":          domain,
					"announcement_id": announcementID,
					"flow_id":         record.FlowID,
				},
			}, nil
		}
	}

	result, err := p.Starter.StartFlow(ctx, domain, core.SourceDiscovery, ann.Payload)
	if err != nil {
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(claim.Attempts))
		_ = p.Ledger.Fail(ctx, claim.ClaimID, err, nextAttemptAt, p.maxAttempts())
		return Result{}, err
	}

	if err := p.Ledger.Complete(ctx, claim.ClaimID); err != nil {
		return Result{}, err
	}

	out := Result{
		Outcome: OutcomeStarted,
		Metadata: map[string]any{
			"domain":          domain,
			"announcement_id": announcementID,
		},
	}
	if result != nil {
		out.FlowID = result.FlowID
		out.EntryID = result.EntryID
		out.Metadata["result_type"] = string(result.Kind)
		if result.Reason != "" {
			out.Metadata["reason"] = result.Reason
		}
	}
	return out, nil
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}
