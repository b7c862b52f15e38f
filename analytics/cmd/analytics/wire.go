package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/numberoneson/nos-analytics/analytics/internal/config"
	"github.com/numberoneson/nos-analytics/analytics/internal/ratelimit"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage/postgres"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage/redisstore"
	"github.com/numberoneson/nos-analytics/analytics/pkg/schema"
	"github.com/numberoneson/nos-analytics/common/logging"
)

// backend bundles the configured storage with the handles the rate limit
// store may share.
type backend struct {
	storage.Backend
	pg    *postgres.Backend
	redis *redisstore.Backend
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	cal := storage.NewCalendar(cfg.Location())

	switch cfg.Storage.Backend {
	case "postgres":
		status, err := schema.Up(cfg.Database.MigrationsPath, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		slog.Info("Database migrations applied", slog.Uint64("version", uint64(status.Version)))

		pg, err := postgres.New(ctx, cfg.Database.URL, postgres.Options{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			Calendar:        cal,
		})
		if err != nil {
			return nil, err
		}
		return &backend{Backend: pg, pg: pg}, nil
	case "redis":
		rs, err := redisstore.New(ctx, cfg.Redis.URL, redisstore.Options{
			Prefix:   cfg.Redis.KeyPrefix,
			Calendar: cal,
		})
		if err != nil {
			return nil, err
		}
		return &backend{Backend: rs, redis: rs}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// newGate builds the rate gate. The redis and postgres counter stores reuse
// the storage backend's connection when it is of the same kind.
func newGate(ctx context.Context, cfg *config.Config, b *backend, logger *logging.Logger) (ratelimit.Gate, *ratelimit.FixedWindow, error) {
	if !cfg.RateLimit.Enabled {
		return ratelimit.NoOp{}, nil, nil
	}

	var store ratelimit.CounterStore
	switch cfg.RateLimit.Backend {
	case "", "memory":
		store = ratelimit.NewMemoryStore()
	case "redis":
		if b.redis != nil {
			store = ratelimit.NewRedisStore(b.redis.Client(), cfg.Redis.KeyPrefix, cfg.RateLimit.Window)
			break
		}
		rs, err := ratelimit.DialRedisStore(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix, cfg.RateLimit.Window)
		if err != nil {
			return nil, nil, err
		}
		store = rs
	case "postgres":
		if b.pg == nil {
			return nil, nil, fmt.Errorf("postgres rate limit store requires the postgres storage backend")
		}
		store = ratelimit.NewPostgresStore(b.pg.Pool())
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}

	gate := ratelimit.NewFixedWindow(store, cfg.RateLimit.Window, ratelimit.WithLogger(logger.Logger))
	return gate, gate, nil
}
