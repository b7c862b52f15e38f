// Package storage defines the contract shared by the rollup backends.
//
// Both backends attribute events to calendar days through a Calendar, keep
// scalar and dimension counters exact, and may estimate distinct counts.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/botscore"
	"github.com/numberoneson/nos-analytics/analytics/internal/classifier"
	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
)

// Retention horizons enforced by Cleanup.
const (
	EventRetention     = 90 * 24 * time.Hour
	ErrorRetention     = 30 * 24 * time.Hour
	AuditRetention     = 90 * 24 * time.Hour
	RateLimitRetention = time.Hour

	// RealtimeWindow is the trailing interval counted by ReadRealtime.
	RealtimeWindow = 5 * time.Minute
)

// Default listing sizes.
const (
	DefaultErrorLimit = 20
	DefaultAuditLimit = 50
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage: backend closed")

// DayQuery selects one site's bucket for one calendar day.
type DayQuery struct {
	Site string
	// Date is YYYY-MM-DD in the backend's calendar.
	Date string
	// Untruncated returns every dimension value instead of the per-dimension top N.
	Untruncated bool
}

// CleanupResult reports what retention cleanup removed.
type CleanupResult struct {
	Deleted int64            `json:"deleted"`
	ByKind  map[string]int64 `json:"by_kind,omitempty"`
}

// Add records n deletions of kind.
func (r *CleanupResult) Add(kind string, n int64) {
	if n == 0 {
		return
	}
	if r.ByKind == nil {
		r.ByKind = make(map[string]int64)
	}
	r.ByKind[kind] += n
	r.Deleted += n
}

// Backend persists classified events and serves per-day rollups.
type Backend interface {
	// Init prepares the backend. Only the first call does work.
	Init(ctx context.Context) error

	// Write persists e according to dest as one atomic unit.
	Write(ctx context.Context, e *models.Event, dest classifier.Destination) error

	ReadDay(ctx context.Context, q DayQuery) (*models.DailyBucket, error)
	// ReadRealtime counts non-bot events in the trailing RealtimeWindow.
	ReadRealtime(ctx context.Context, site string) (int64, error)
	// Funnel counts distinct fingerprints per stage over [from, to], inclusive days.
	Funnel(ctx context.Context, site, from, to string) (models.Funnel, error)

	// RecordError appends to the error sink.
	RecordError(ctx context.Context, rec *models.ErrorRecord) error
	RecentErrors(ctx context.Context, site string, limit int) ([]models.ErrorRecord, error)

	LogAudit(ctx context.Context, entry *models.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)

	// Cleanup deletes data older than the retention horizons relative to now.
	Cleanup(ctx context.Context, now time.Time) (CleanupResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// CountsAsTraffic reports whether an event routed to dest also feeds the
// day's traffic counters. Conversions do unless their score is in drop range.
func CountsAsTraffic(e *models.Event, dest classifier.Destination) bool {
	switch dest {
	case classifier.Standard:
		return true
	case classifier.Conversion:
		return botscore.Classify(e.BotScore) != botscore.Drop
	default:
		return false
	}
}

// FunnelStage returns the funnel stage e contributes to, or "".
func FunnelStage(e *models.Event) string {
	if kind := e.ConversionKind(); kind != "" {
		return kind
	}
	if e.Type == models.TypePageview && !e.IsBot {
		return "visits"
	}
	return ""
}

// Once guards a backend's one-shot initialisation.
type Once struct {
	once sync.Once
	err  error
}

// Do runs f on the first call and returns its error on every call.
func (o *Once) Do(f func() error) error {
	o.once.Do(func() { o.err = f() })
	return o.err
}

// Observe records the duration and outcome of a storage operation.
func Observe(op string, start time.Time, err error) {
	metrics.StorageDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StorageErrors.WithLabelValues(op).Inc()
	}
}
