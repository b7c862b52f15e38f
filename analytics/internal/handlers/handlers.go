// Package handlers exposes the collection, dashboard and operations API.
package handlers

import (
	"context"
	"io"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/audit"
	"github.com/numberoneson/nos-analytics/analytics/internal/classifier"
	"github.com/numberoneson/nos-analytics/analytics/internal/dlq"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/rollup"
	"github.com/numberoneson/nos-analytics/analytics/internal/service"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
	"github.com/numberoneson/nos-analytics/analytics/pkg/session"
	"github.com/numberoneson/nos-analytics/common/logging"
)

type Collector interface {
	Collect(ctx context.Context, body io.Reader, meta service.RequestMeta) (classifier.Destination, error)
}

type Querier interface {
	Site(ctx context.Context, site string, days int) (*rollup.MultiDayResult, error)
	All(ctx context.Context, days int) (*rollup.Overview, error)
	RecentErrors(ctx context.Context, site string, limit int) ([]models.ErrorRecord, error)
	RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
	DefaultDays() int
}

type Maintainer interface {
	Cleanup(ctx context.Context) (storage.CleanupResult, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Auth holds everything needed to log in and check dashboard credentials.
type Auth struct {
	Signer       *session.Signer
	Passwords    *session.PasswordChecker
	Chain        session.Chain
	CookieName   string
	CookieSecure bool
	CronSecret   string
}

// Deps are the collaborators of a Handler. DLQ, Audit, Logger and Now are
// optional.
type Deps struct {
	Collector    Collector
	Queries      Querier
	Maintenance  Maintainer
	Health       Pinger
	DLQ          dlq.Store
	Auth         Auth
	Audit        *audit.Logger
	MaxBodyBytes int64
	Logger       *logging.Logger
	Now          func() time.Time
}

type Handler struct {
	collector    Collector
	queries      Querier
	maintenance  Maintainer
	health       Pinger
	dlq          dlq.Store
	auth         Auth
	audit        *audit.Logger
	maxBodyBytes int64
	logger       *logging.Logger
	now          func() time.Time
}

// DefaultMaxBodyBytes bounds a collection payload.
const DefaultMaxBodyBytes = 64 << 10

func New(deps Deps) *Handler {
	h := &Handler{
		collector:    deps.Collector,
		queries:      deps.Queries,
		maintenance:  deps.Maintenance,
		health:       deps.Health,
		dlq:          deps.DLQ,
		auth:         deps.Auth,
		audit:        deps.Audit,
		maxBodyBytes: deps.MaxBodyBytes,
		logger:       deps.Logger,
		now:          deps.Now,
	}
	if h.auth.CookieName == "" {
		h.auth.CookieName = "nos-auth"
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = DefaultMaxBodyBytes
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}
