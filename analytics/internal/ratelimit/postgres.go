package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps counters in the rate_limits table. One row per
// address; the upsert resets the row when its window has elapsed.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const incrSQL = `
	INSERT INTO rate_limits (address, count, window_start)
	VALUES ($1, 1, $2)
	ON CONFLICT (address) DO UPDATE SET
		count = CASE WHEN rate_limits.window_start < EXCLUDED.window_start THEN 1 ELSE rate_limits.count + 1 END,
		window_start = GREATEST(rate_limits.window_start, EXCLUDED.window_start)
	RETURNING count`

func (s *PostgresStore) Incr(ctx context.Context, addr string, windowStart time.Time) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, incrSQL, addr, windowStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("rate limit upsert failed: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("rate limit purge failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the storage backend.
func (s *PostgresStore) Close() error {
	return nil
}
