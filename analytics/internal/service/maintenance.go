package service

import (
	"context"
	"fmt"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
	"github.com/numberoneson/nos-analytics/common/logging"
)

// RatePurger removes stale rate limit counters.
type RatePurger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// MaintenanceService applies retention.
type MaintenanceService struct {
	backend storage.Backend
	purger  RatePurger
	logger  *logging.Logger
	now     func() time.Time
}

// NewMaintenanceService creates the service. purger may be nil.
func NewMaintenanceService(backend storage.Backend, purger RatePurger, logger *logging.Logger) *MaintenanceService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &MaintenanceService{backend: backend, purger: purger, logger: logger, now: time.Now}
}

// WithClock replaces time.Now; used by tests.
func (s *MaintenanceService) WithClock(now func() time.Time) *MaintenanceService {
	s.now = now
	return s
}

// Cleanup deletes everything past its retention horizon. Failures are
// also recorded in the system error sink.
func (s *MaintenanceService) Cleanup(ctx context.Context) (storage.CleanupResult, error) {
	now := s.now()
	start := time.Now()

	res, err := s.backend.Cleanup(ctx, now)
	if err != nil {
		s.recordFailure(ctx, "storage cleanup", err)
		return storage.CleanupResult{}, err
	}

	if s.purger != nil {
		n, err := s.purger.Purge(ctx, now.Add(-storage.RateLimitRetention))
		if err != nil {
			s.recordFailure(ctx, "rate limit purge", err)
			return res, err
		}
		res.Add("rate_limits", n)
	}

	metrics.CleanupDeleted.Add(float64(res.Deleted))
	s.logger.InfoContext(ctx, "cleanup complete",
		"deleted", res.Deleted,
		logging.Duration(time.Since(start)),
	)
	return res, nil
}

func (s *MaintenanceService) recordFailure(ctx context.Context, what string, cause error) {
	s.logger.ErrorContext(ctx, what+" failed", logging.Error(cause))
	rec := &models.ErrorRecord{
		Site:      models.SystemSite,
		Message:   fmt.Sprintf("%s failed: %v", what, cause),
		Source:    "cleanup",
		CreatedAt: s.now(),
	}
	if err := s.backend.RecordError(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to record system error", logging.Error(err))
	}
}
