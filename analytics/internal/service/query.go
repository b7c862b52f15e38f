package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/numberoneson/nos-analytics/analytics/internal/config"
	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/rollup"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
	"github.com/numberoneson/nos-analytics/common/httputil"
)

// Day range limits for dashboard queries.
const (
	MinDays     = 1
	MaxDays     = 90
	DefaultDays = 30
)

// QueryService builds dashboard payloads from per-day buckets.
type QueryService struct {
	backend  storage.Backend
	calendar storage.Calendar
	sites    []config.SiteConfig
	cfg      config.QueryConfig
	now      func() time.Time
}

func NewQueryService(backend storage.Backend, calendar storage.Calendar, sites []config.SiteConfig, cfg config.QueryConfig) *QueryService {
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = DefaultDays
	}
	if cfg.MaxDays <= 0 || cfg.MaxDays > MaxDays {
		cfg.MaxDays = MaxDays
	}
	cfg.DefaultDays = httputil.Clamp(cfg.DefaultDays, MinDays, cfg.MaxDays)
	return &QueryService{
		backend:  backend,
		calendar: calendar,
		sites:    sites,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock replaces time.Now; used by tests.
func (s *QueryService) WithClock(now func() time.Time) *QueryService {
	s.now = now
	return s
}

// DefaultDays is the range used when a request names none.
func (s *QueryService) DefaultDays() int {
	return s.cfg.DefaultDays
}

// Days clamps a requested range to [MinDays, MaxDays]. Zero and negative
// values become MinDays; callers substitute DefaultDays for a missing value.
func (s *QueryService) Days(requested int) int {
	return httputil.Clamp(requested, MinDays, s.cfg.MaxDays)
}

func (s *QueryService) label(site string) (string, bool) {
	for _, sc := range s.sites {
		if sc.ID == site {
			if sc.Label == "" {
				return sc.ID, true
			}
			return sc.Label, true
		}
	}
	return "", false
}

func (s *QueryService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// Site returns the merged view of one site over the trailing days.
func (s *QueryService) Site(ctx context.Context, site string, days int) (*rollup.MultiDayResult, error) {
	label, ok := s.label(site)
	if !ok {
		return nil, models.ErrUnknownSite
	}
	defer func(start time.Time) { metrics.QueryDuration.Observe(time.Since(start).Seconds()) }(time.Now())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	r, err := s.site(ctx, site, s.Days(days))
	if err != nil {
		return nil, err
	}
	r.Label = label
	return r, nil
}

func (s *QueryService) site(ctx context.Context, site string, days int) (*rollup.MultiDayResult, error) {
	dates := s.calendar.Dates(s.now(), days)
	buckets := make([]*models.DailyBucket, len(dates))

	var (
		realtime int64
		funnel   models.Funnel
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, date := range dates {
		g.Go(func() error {
			b, err := s.backend.ReadDay(gctx, storage.DayQuery{
				Site:        site,
				Date:        date,
				Untruncated: s.cfg.ExactMerge,
			})
			if err != nil {
				return fmt.Errorf("read %s %s: %w", site, date, err)
			}
			buckets[i] = b
			return nil
		})
	}
	g.Go(func() error {
		n, err := s.backend.ReadRealtime(gctx, site)
		if err != nil {
			return fmt.Errorf("read realtime %s: %w", site, err)
		}
		realtime = n
		return nil
	})
	g.Go(func() error {
		f, err := s.backend.Funnel(gctx, site, dates[len(dates)-1], dates[0])
		if err != nil {
			return fmt.Errorf("read funnel %s: %w", site, err)
		}
		funnel = f
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return rollup.MergeDays(site, buckets, realtime, funnel), nil
}

// All returns every configured site plus the cross-site summary.
func (s *QueryService) All(ctx context.Context, days int) (*rollup.Overview, error) {
	defer func(start time.Time) { metrics.QueryDuration.Observe(time.Since(start).Seconds()) }(time.Now())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	days = s.Days(days)
	results := make([]*rollup.MultiDayResult, len(s.sites))

	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range s.sites {
		g.Go(func() error {
			r, err := s.site(gctx, sc.ID, days)
			if err != nil {
				return err
			}
			r.Label, _ = s.label(sc.ID)
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rollup.NewOverview(days, results), nil
}

// RecentErrors lists the newest error records of a configured site or the
// system sink.
func (s *QueryService) RecentErrors(ctx context.Context, site string, limit int) ([]models.ErrorRecord, error) {
	if _, ok := s.label(site); !ok && site != models.SystemSite {
		return nil, models.ErrUnknownSite
	}
	if limit <= 0 {
		limit = storage.DefaultErrorLimit
	}
	return s.backend.RecentErrors(ctx, site, limit)
}

// RecentAudit lists the newest audit entries.
func (s *QueryService) RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultAuditLimit
	}
	return s.backend.RecentAudit(ctx, limit)
}
