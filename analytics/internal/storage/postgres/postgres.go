// Package postgres is the exact relational rollup backend.
//
// Every standard-stream write updates the raw event table and the day's
// bucket, dimension, hourly and visitor rows in one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/numberoneson/nos-analytics/analytics/internal/classifier"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
)

const opTimeout = 5 * time.Second

// Options tune the pool and the calendar.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Calendar        storage.Calendar
	// Now replaces time.Now for realtime reads.
	Now func() time.Time
}

// Backend implements storage.Backend on PostgreSQL.
type Backend struct {
	pool  *pgxpool.Pool
	cal   storage.Calendar
	now   func() time.Time
	owned bool
	init  storage.Once
}

var _ storage.Backend = (*Backend)(nil)

// New connects to connString and verifies the connection.
func New(ctx context.Context, connString string, opts Options) (*Backend, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := NewWithPool(pool, opts)
	b.owned = true
	return b, nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership.
func NewWithPool(pool *pgxpool.Pool, opts Options) *Backend {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Backend{pool: pool, cal: opts.Calendar, now: now}
}

// Pool exposes the connection pool for components sharing the database.
func (b *Backend) Pool() *pgxpool.Pool {
	return b.pool
}

// Init checks that the schema has been migrated.
func (b *Backend) Init(ctx context.Context) error {
	return b.init.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		var table *string
		if err := b.pool.QueryRow(ctx, `SELECT to_regclass('events')::text`).Scan(&table); err != nil {
			return fmt.Errorf("failed to inspect schema: %w", err)
		}
		if table == nil {
			return errors.New("schema not migrated: table events missing")
		}
		return nil
	})
}

func (b *Backend) Write(ctx context.Context, e *models.Event, dest classifier.Destination) (err error) {
	if dest == classifier.Dropped {
		return nil
	}

	defer func(start time.Time) { storage.Observe("write", start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = b.now()
	}

	if dest == classifier.Error {
		return b.RecordError(ctx, models.NewErrorRecord(e))
	}

	err = pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if dest == classifier.Conversion {
			if err := b.insertConversion(ctx, tx, e); err != nil {
				return err
			}
		}
		if storage.CountsAsTraffic(e, dest) {
			return b.writeTraffic(ctx, tx, e)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s event: %w", dest, err)
	}
	return nil
}

func (b *Backend) insertConversion(ctx context.Context, tx pgx.Tx, e *models.Event) error {
	rec := models.NewConversionRecord(e)
	day := b.dayOf(e.ReceivedAt)

	_, err := tx.Exec(ctx, `
		INSERT INTO conversions (id, site, kind, day, fingerprint, user_id, amount, plan, currency, utm, is_bot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.Site, rec.Kind, day, rec.Fingerprint, nullable(rec.UserID),
		rec.Amount, nullable(rec.Plan), rec.Currency, rec.UTM, rec.IsBot, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("duplicate conversion %s", rec.ID)
		}
		return fmt.Errorf("failed to insert conversion: %w", err)
	}
	return nil
}

func (b *Backend) writeTraffic(ctx context.Context, tx pgx.Tx, e *models.Event) error {
	day := b.dayOf(e.ReceivedAt)
	hour := b.cal.Hour(e.ReceivedAt)
	botEvents := 0
	if e.IsBot {
		botEvents = 1
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO events (id, site, type, day, hour, url, path, referrer, fingerprint, device_type, os, browser,
			country, region, city, utm_source, utm_medium, utm_campaign, duration, scroll_depth, label,
			event_name, user_id, is_bot, bot_score, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26)`,
		e.ID, e.Site, e.Type, day, hour, nullable(e.URL), nullable(e.Path), nullable(e.Referrer),
		e.Fingerprint, nullable(e.DeviceType), nullable(e.OS), nullable(e.Browser),
		nullable(e.Country), nullable(e.Region), nullable(e.City),
		nullable(e.UTMSource), nullable(e.UTMMedium), nullable(e.UTMCampaign),
		e.Duration, e.ScrollDepth, nullable(e.Label), nullable(e.Name), nullable(e.UserID),
		e.IsBot, e.BotScore, e.ReceivedAt,
	)
	batch.Queue(`
		INSERT INTO daily_buckets (site, day, events, bot_events) VALUES ($1, $2, 1, $3)
		ON CONFLICT (site, day) DO UPDATE SET
			events = daily_buckets.events + 1,
			bot_events = daily_buckets.bot_events + EXCLUDED.bot_events`,
		e.Site, day, botEvents,
	)
	batch.Queue(`
		INSERT INTO daily_hourly (site, day, hour, count) VALUES ($1, $2, $3, 1)
		ON CONFLICT (site, day, hour) DO UPDATE SET count = daily_hourly.count + 1`,
		e.Site, day, hour,
	)
	for _, dim := range models.Dimensions {
		value := dim.Value(e)
		if value == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO daily_dimensions (site, day, dimension, value, count) VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (site, day, dimension, value) DO UPDATE SET count = daily_dimensions.count + 1`,
			e.Site, day, string(dim), value,
		)
	}
	if e.Fingerprint != "" {
		batch.Queue(`
			INSERT INTO daily_visitors (site, day, fingerprint) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			e.Site, day, e.Fingerprint,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to update day rollups: %w", err)
	}
	return nil
}

// dayOf returns the calendar day of t as a date value.
func (b *Backend) dayOf(t time.Time) time.Time {
	start, _ := b.cal.Start(b.cal.Day(t))
	return start
}

func (b *Backend) ReadDay(ctx context.Context, q storage.DayQuery) (bucket *models.DailyBucket, err error) {
	defer func(start time.Time) { storage.Observe("read_day", start, err) }(time.Now())

	day, err := b.cal.Start(q.Date)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	bucket = models.NewDailyBucket(q.Site, q.Date)

	err = b.pool.QueryRow(ctx,
		`SELECT events, bot_events FROM daily_buckets WHERE site = $1 AND day = $2`,
		q.Site, day,
	).Scan(&bucket.Events, &bucket.BotEvents)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read day bucket: %w", err)
	}

	if err := b.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM daily_visitors WHERE site = $1 AND day = $2`,
		q.Site, day,
	).Scan(&bucket.Visitors); err != nil {
		return nil, fmt.Errorf("failed to count visitors: %w", err)
	}

	if err := b.readHourly(ctx, q.Site, day, bucket); err != nil {
		return nil, err
	}
	if err := b.readDimensions(ctx, q, day, bucket); err != nil {
		return nil, err
	}

	funnel, err := b.Funnel(ctx, q.Site, q.Date, q.Date)
	if err != nil {
		return nil, err
	}
	bucket.Funnel = funnel

	return bucket, nil
}

func (b *Backend) readHourly(ctx context.Context, site string, day time.Time, bucket *models.DailyBucket) error {
	rows, err := b.pool.Query(ctx,
		`SELECT hour, count FROM daily_hourly WHERE site = $1 AND day = $2`, site, day)
	if err != nil {
		return fmt.Errorf("failed to read hourly: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hour  int16
			count int64
		)
		if err := rows.Scan(&hour, &count); err != nil {
			return fmt.Errorf("failed to scan hourly: %w", err)
		}
		if hour >= 0 && hour < 24 {
			bucket.Hourly[hour] = count
		}
	}
	return rows.Err()
}

// readDimensions ranks each dimension by count desc then value desc and
// keeps the dimension's limit unless the query asks for everything.
func (b *Backend) readDimensions(ctx context.Context, q storage.DayQuery, day time.Time, bucket *models.DailyBucket) error {
	names := make([]string, 0, len(models.Dimensions))
	limits := make([]int32, 0, len(models.Dimensions))
	for _, d := range models.Dimensions {
		names = append(names, string(d))
		limits = append(limits, int32(d.Limit()))
	}

	rows, err := b.pool.Query(ctx, `
		WITH limits AS (
			SELECT * FROM unnest($3::text[], $4::int[]) AS l(dimension, lim)
		), ranked AS (
			SELECT dimension, value, count,
				ROW_NUMBER() OVER (PARTITION BY dimension ORDER BY count DESC, value COLLATE "C" DESC) AS rn
			FROM daily_dimensions
			WHERE site = $1 AND day = $2
		)
		SELECT r.dimension, r.value, r.count
		FROM ranked r JOIN limits l USING (dimension)
		WHERE $5 OR r.rn <= l.lim
		ORDER BY r.dimension, r.rn`,
		q.Site, day, names, limits, q.Untruncated,
	)
	if err != nil {
		return fmt.Errorf("failed to read dimensions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dim string
			c   models.Count
		)
		if err := rows.Scan(&dim, &c.Name, &c.Count); err != nil {
			return fmt.Errorf("failed to scan dimension: %w", err)
		}
		d := models.Dimension(dim)
		bucket.Dimensions[d] = append(bucket.Dimensions[d], c)
	}
	return rows.Err()
}

func (b *Backend) ReadRealtime(ctx context.Context, site string) (n int64, err error) {
	defer func(start time.Time) { storage.Observe("read_realtime", start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	since := b.now().Add(-storage.RealtimeWindow)
	err = b.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE site = $1 AND received_at > $2 AND NOT is_bot`,
		site, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count realtime events: %w", err)
	}
	return n, nil
}

func (b *Backend) Funnel(ctx context.Context, site, from, to string) (f models.Funnel, err error) {
	defer func(start time.Time) { storage.Observe("funnel", start, err) }(time.Now())

	fromDay, err := b.cal.Start(from)
	if err != nil {
		return f, err
	}
	toDay, err := b.cal.Start(to)
	if err != nil {
		return f, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err = b.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT fingerprint) FROM events
				WHERE site = $1 AND day BETWEEN $2 AND $3 AND type = 'pageview' AND NOT is_bot AND fingerprint <> ''),
			(SELECT COUNT(DISTINCT fingerprint) FROM conversions
				WHERE site = $1 AND day BETWEEN $2 AND $3 AND kind = 'signup' AND fingerprint <> ''),
			(SELECT COUNT(DISTINCT fingerprint) FROM conversions
				WHERE site = $1 AND day BETWEEN $2 AND $3 AND kind = 'paid' AND fingerprint <> '')`,
		site, fromDay, toDay,
	).Scan(&f.Visits, &f.Signups, &f.Paid)
	if err != nil {
		return models.Funnel{}, fmt.Errorf("failed to compute funnel: %w", err)
	}
	return f, nil
}

func (b *Backend) RecordError(ctx context.Context, rec *models.ErrorRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = b.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := b.pool.Exec(ctx, `
		INSERT INTO errors (id, site, message, stack, source, line, col, url, browser, os, fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.Site, nullable(rec.Message), nullable(rec.Stack), nullable(rec.Source),
		rec.Line, rec.Col, nullable(rec.URL), nullable(rec.Browser), nullable(rec.OS),
		nullable(rec.Fingerprint), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert error record: %w", err)
	}
	return nil
}

func (b *Backend) RecentErrors(ctx context.Context, site string, limit int) ([]models.ErrorRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultErrorLimit
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := b.pool.Query(ctx, `
		SELECT id::text, site, COALESCE(message, ''), COALESCE(stack, ''), COALESCE(source, ''), line, col,
			COALESCE(url, ''), COALESCE(browser, ''), COALESCE(os, ''), COALESCE(fingerprint, ''), created_at
		FROM errors WHERE site = $1
		ORDER BY created_at DESC
		LIMIT $2`, site, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}
	defer rows.Close()

	out := []models.ErrorRecord{}
	for rows.Next() {
		var rec models.ErrorRecord
		if err := rows.Scan(&rec.ID, &rec.Site, &rec.Message, &rec.Stack, &rec.Source, &rec.Line, &rec.Col,
			&rec.URL, &rec.Browser, &rec.OS, &rec.Fingerprint, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan error record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *Backend) LogAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = b.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := b.pool.Exec(ctx,
		`INSERT INTO audit_log (action, ip, user_agent, success, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.Action, entry.IP, entry.UserAgent, entry.Success, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (b *Backend) RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultAuditLimit
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := b.pool.Query(ctx, `
		SELECT action, COALESCE(ip, ''), COALESCE(user_agent, ''), success, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}

	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.AuditEntry])
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return entries, nil
}

// Cleanup deletes expired rows in one transaction.
func (b *Backend) Cleanup(ctx context.Context, now time.Time) (res storage.CleanupResult, err error) {
	defer func(start time.Time) { storage.Observe("cleanup", start, err) }(time.Now())

	cutoffDay := b.dayOf(now.Add(-storage.EventRetention))
	statements := []struct {
		kind  string
		query string
		arg   any
	}{
		{"events", `DELETE FROM events WHERE day < $1`, cutoffDay},
		{"daily_buckets", `DELETE FROM daily_buckets WHERE day < $1`, cutoffDay},
		{"daily_dimensions", `DELETE FROM daily_dimensions WHERE day < $1`, cutoffDay},
		{"daily_hourly", `DELETE FROM daily_hourly WHERE day < $1`, cutoffDay},
		{"daily_visitors", `DELETE FROM daily_visitors WHERE day < $1`, cutoffDay},
		{"conversions", `DELETE FROM conversions WHERE day < $1`, cutoffDay},
		{"errors", `DELETE FROM errors WHERE created_at < $1`, now.Add(-storage.ErrorRetention)},
		{"audit_log", `DELETE FROM audit_log WHERE created_at < $1`, now.Add(-storage.AuditRetention)},
		{"rate_limits", `DELETE FROM rate_limits WHERE window_start < $1`, now.Add(-storage.RateLimitRetention)},
	}

	err = pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		for _, s := range statements {
			tag, err := tx.Exec(ctx, s.query, s.arg)
			if err != nil {
				return fmt.Errorf("failed to clean %s: %w", s.kind, err)
			}
			res.Add(s.kind, tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return storage.CleanupResult{}, err
	}
	return res, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *Backend) Close() error {
	if b.owned {
		b.pool.Close()
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
