package discovery

import (
	"context"
	"strings"
	"sync"
	"time"
)

type BurstDecision struct {
	Allow    bool
	Metadata map[string]any
}

// BurstController caps how fast one domain may start discovery flows.
type BurstController interface {
	Allow(ctx context.Context, ann Announcement) (BurstDecision, error)
}

type BurstOptions struct {
	// Limit is the number of announcements one domain may start inside
	// Window. Zero disables the controller.
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

// SlidingWindowBurstController counts recent announcements per domain and
// rejects the ones above the cap until the window slides past them.
type SlidingWindowBurstController struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string][]time.Time
}

func NewBurstController(opts BurstOptions) *SlidingWindowBurstController {
	window := opts.Window
	if window <= 0 {
		window = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SlidingWindowBurstController{
		limit:  opts.Limit,
		window: window,
		now:    now,
		seen:   map[string][]time.Time{},
	}
}

func (c *SlidingWindowBurstController) Allow(_ context.Context, ann Announcement) (BurstDecision, error) {
	if c == nil || c.limit <= 0 {
		return BurstDecision{Allow: true}, nil
	}
	domain := strings.ToLower(strings.TrimSpace(ann.Domain))
	if domain == "" {
		return BurstDecision{Allow: true}, nil
	}

	now := c.now().UTC()
	cutoff := now.Add(-c.window)

	c.mu.Lock()
	defer c.mu.Unlock()

	recent := c.seen[domain][:0]
	for _, at := range c.seen[domain] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= c.limit {
		c.seen[domain] = recent
		return BurstDecision{
			Allow: false,
			Metadata: map[string]any{
				"burst_key":       domain,
				"burst_limit":     c.limit,
				"burst_window_ms": c.window.Milliseconds(),
			},
		}, nil
	}

	c.seen[domain] = append(recent, now)
	return BurstDecision{Allow: true}, nil
}

var _ BurstController = (*SlidingWindowBurstController)(nil)
