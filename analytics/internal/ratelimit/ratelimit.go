// Package ratelimit implements per-address admission control over a fixed
// window. Counter store failures admit the request.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
	"github.com/numberoneson/nos-analytics/common/logging"
)

// DefaultWindow is the fixed admission window.
const DefaultWindow = time.Minute

// Gate answers whether a request from addr may proceed.
type Gate interface {
	Admit(ctx context.Context, addr string, max int) bool
	Close() error
}

// CounterStore holds one counter per address per window. Incr must be atomic
// with respect to concurrent callers on the same address.
type CounterStore interface {
	// Incr increments the counter of addr for the window starting at
	// windowStart, creating it at 1 when absent, and returns the new count.
	Incr(ctx context.Context, addr string, windowStart time.Time) (int64, error)
	// Purge deletes counters whose window started before the given instant.
	Purge(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// FixedWindow admits at most max requests per address per window.
type FixedWindow struct {
	store  CounterStore
	window time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	lastPurge time.Time
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *FixedWindow) { f.now = now }
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(l *slog.Logger) Option {
	return func(f *FixedWindow) { f.logger = l }
}

// NewFixedWindow creates a gate over store. A non-positive window selects DefaultWindow.
func NewFixedWindow(store CounterStore, window time.Duration, opts ...Option) *FixedWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	f := &FixedWindow{
		store:  store,
		window: window,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Admit purges elapsed windows, increments the counter for addr and reports
// whether the post-increment count is within max.
func (f *FixedWindow) Admit(ctx context.Context, addr string, max int) bool {
	now := f.now()
	start := now.Truncate(f.window)

	f.purge(ctx, start)

	count, err := f.store.Incr(ctx, addr, start)
	if err != nil {
		metrics.RateLimitFailOpen.Inc()
		f.logger.WarnContext(ctx, "rate limit store unavailable, admitting",
			logging.IP(addr), logging.Error(err))
		return true
	}

	if count > int64(max) {
		metrics.RateLimitHits.Inc()
		return false
	}
	return true
}

// purge removes elapsed windows at most once per window.
func (f *FixedWindow) purge(ctx context.Context, windowStart time.Time) {
	f.mu.Lock()
	if !f.lastPurge.Before(windowStart) {
		f.mu.Unlock()
		return
	}
	f.lastPurge = windowStart
	f.mu.Unlock()

	if _, err := f.store.Purge(ctx, windowStart); err != nil {
		f.logger.DebugContext(ctx, "rate limit purge failed", logging.Error(err))
	}
}

// Purge deletes counters older than before. Used by retention cleanup.
func (f *FixedWindow) Purge(ctx context.Context, before time.Time) (int64, error) {
	return f.store.Purge(ctx, before)
}

func (f *FixedWindow) Close() error {
	return f.store.Close()
}

// NoOp always admits (for testing or disabled rate limiting).
type NoOp struct{}

func (NoOp) Admit(ctx context.Context, addr string, max int) bool {
	return true
}

func (NoOp) Close() error {
	return nil
}
