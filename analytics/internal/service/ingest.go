// Package service wires the collection pipeline, dashboard queries and
// retention maintenance on top of a storage backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/numberoneson/nos-analytics/analytics/internal/classifier"
	"github.com/numberoneson/nos-analytics/analytics/internal/dlq"
	"github.com/numberoneson/nos-analytics/analytics/internal/geo"
	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/normalizer"
	"github.com/numberoneson/nos-analytics/analytics/internal/ratelimit"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
	"github.com/numberoneson/nos-analytics/common/logging"
)

// RequestMeta is what the transport knows about a collection request.
type RequestMeta struct {
	Addr      string
	UserAgent string
}

// IngestDeps are the collaborators of an IngestService. Gate, Locator,
// DLQ, Logger and Now are optional.
type IngestDeps struct {
	Backend      storage.Backend
	Normalizer   *normalizer.Normalizer
	Gate         ratelimit.Gate
	MaxPerWindow int
	Locator      geo.Locator
	DLQ          dlq.Writer
	Logger       *logging.Logger
	Now          func() time.Time
}

type IngestService struct {
	backend    storage.Backend
	normalizer *normalizer.Normalizer
	gate       ratelimit.Gate
	max        int
	locator    geo.Locator
	dlq        dlq.Writer
	logger     *logging.Logger
	now        func() time.Time
}

func NewIngestService(deps IngestDeps) *IngestService {
	s := &IngestService{
		backend:    deps.Backend,
		normalizer: deps.Normalizer,
		gate:       deps.Gate,
		max:        deps.MaxPerWindow,
		locator:    deps.Locator,
		dlq:        deps.DLQ,
		logger:     deps.Logger,
		now:        deps.Now,
	}
	if s.gate == nil {
		s.gate = ratelimit.NoOp{}
	}
	if s.max <= 0 {
		s.max = 100
	}
	if s.locator == nil {
		s.locator = geo.None{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Collect admits, validates, enriches, classifies and persists one event.
// The body is read only once the request is admitted. Dropped bots are
// acknowledged without being stored. The returned error wraps
// ErrAdmissionDenied, ErrValidation or ErrBackendUnavailable; a failed read
// also wraps the reader's error.
func (s *IngestService) Collect(ctx context.Context, body io.Reader, meta RequestMeta) (classifier.Destination, error) {
	if !s.gate.Admit(ctx, meta.Addr, s.max) {
		metrics.IngestRejections.WithLabelValues("rate_limited").Inc()
		return classifier.Dropped, models.ErrAdmissionDenied
	}

	data, err := io.ReadAll(body)
	if err != nil {
		metrics.IngestRejections.WithLabelValues("invalid").Inc()
		return classifier.Dropped, fmt.Errorf("%w: %w", models.Invalid("body", "unreadable"), err)
	}
	e, err := normalizer.Decode(data)
	if err != nil {
		metrics.IngestRejections.WithLabelValues("invalid").Inc()
		return classifier.Dropped, err
	}
	now := s.now()
	if err := s.normalizer.Normalize(e, now); err != nil {
		metrics.IngestRejections.WithLabelValues("invalid").Inc()
		return classifier.Dropped, err
	}

	e.ID = uuid.NewString()
	e.SourceAddress = meta.Addr
	e.UserAgent = meta.UserAgent
	if e.Type != models.TypeError {
		loc := s.locator.Locate(ctx, meta.Addr)
		e.Country, e.Region, e.City = loc.Country, loc.Region, loc.City
	}

	dest := classifier.Apply(e, now)
	metrics.EventsTotal.WithLabelValues(dest.String()).Inc()

	if dest == classifier.Dropped {
		s.logger.DebugContext(ctx, "dropped bot event",
			logging.Site(e.Site),
			logging.BotScore(e.BotScore),
			logging.IP(meta.Addr),
		)
		return dest, nil
	}

	if err := s.backend.Write(ctx, e, dest); err != nil {
		s.logger.ErrorContext(ctx, "failed to store event",
			logging.Site(e.Site),
			logging.EventType(e.Type),
			logging.Destination(dest.String()),
			logging.Error(err),
		)
		s.deadLetter(ctx, e, err)
		return dest, fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	return dest, nil
}

// deadLetter records a failed write in the error sink and the DLQ. Both
// are best effort.
func (s *IngestService) deadLetter(ctx context.Context, e *models.Event, cause error) {
	rec := &models.ErrorRecord{
		Site:      models.SystemSite,
		Message:   fmt.Sprintf("failed to store %s event for %s: %v", e.Type, e.Site, cause),
		Source:    "collect",
		CreatedAt: s.now(),
	}
	if err := s.backend.RecordError(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to record system error", logging.Error(err))
	}

	if s.dlq == nil {
		return
	}
	if err := s.dlq.Write(ctx, e, cause, dlq.ReasonStorage); err != nil {
		s.logger.WarnContext(ctx, "failed to dead-letter event", logging.Error(err))
	}
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, models.ErrValidation)
}
