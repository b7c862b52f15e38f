// Package redisstore is the probabilistic key-value rollup backend.
//
// Scalar, hourly and dimension counters are exact Redis integers and sorted
// set scores. Unique visitors and funnel stages use Redis HyperLogLog, whose
// standard error is 0.81%.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/numberoneson/nos-analytics/analytics/internal/classifier"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
)

// StandardError is the relative standard error of Redis HyperLogLog counts.
const StandardError = 0.0081

// dayKeyTTL keeps day keys past the event retention horizon so Cleanup,
// not expiry, normally removes them.
const dayKeyTTL = storage.EventRetention + 48*time.Hour

// Options configure the backend.
type Options struct {
	Prefix   string
	Calendar storage.Calendar
	Now      func() time.Time
}

// Backend implements storage.Backend on Redis.
type Backend struct {
	client *redis.Client
	keys   keyspace
	cal    storage.Calendar
	now    func() time.Time
	owned  bool
	init   storage.Once
}

var _ storage.Backend = (*Backend)(nil)

// New connects to redisURL.
func New(ctx context.Context, redisURL string, opts Options) (*Backend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	b := NewWithClient(client, opts)
	b.owned = true
	return b, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership.
func NewWithClient(client *redis.Client, opts Options) *Backend {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "nos"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Backend{client: client, keys: keyspace{prefix: prefix}, cal: opts.Calendar, now: now}
}

// Client exposes the Redis client for components sharing the connection.
func (b *Backend) Client() *redis.Client {
	return b.client
}

func (b *Backend) Init(ctx context.Context) error {
	return b.init.Do(func() error {
		if err := b.client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}

// eventRecord is the persisted form of an event, server fields included.
type eventRecord struct {
	*models.Event
	ID         string    `json:"id"`
	Country    string    `json:"country,omitempty"`
	Region     string    `json:"region,omitempty"`
	City       string    `json:"city,omitempty"`
	IsBot      bool      `json:"is_bot"`
	BotScore   int       `json:"bot_score"`
	ReceivedAt time.Time `json:"received_at"`
}

// auditRecord gives each audit entry a unique sorted-set member.
type auditRecord struct {
	ID string `json:"id"`
	models.AuditEntry
}

// Write applies every key update of one event in a MULTI/EXEC transaction.
func (b *Backend) Write(ctx context.Context, e *models.Event, dest classifier.Destination) (err error) {
	if dest == classifier.Dropped {
		return nil
	}

	defer func(start time.Time) { storage.Observe("write", start, err) }(time.Now())

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = b.now()
	}

	if dest == classifier.Error {
		return b.RecordError(ctx, models.NewErrorRecord(e))
	}

	site := e.Site
	day := b.cal.Day(e.ReceivedAt)
	dayStart, err := b.cal.Start(day)
	if err != nil {
		return err
	}
	expireAt := dayStart.Add(dayKeyTTL)

	var conversion []byte
	if dest == classifier.Conversion {
		if conversion, err = json.Marshal(models.NewConversionRecord(e)); err != nil {
			return fmt.Errorf("failed to encode conversion: %w", err)
		}
	}
	traffic := storage.CountsAsTraffic(e, dest)
	var record []byte
	if traffic {
		if record, err = json.Marshal(newEventRecord(e)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		touched := []string{}

		if conversion != nil {
			key := b.keys.conversions(site, day)
			pipe.RPush(ctx, key, conversion)
			touched = append(touched, key)
		}

		if stage := storage.FunnelStage(e); stage != "" && e.Fingerprint != "" && (stage != stageVisits || traffic) {
			key := b.keys.funnel(site, day, stage)
			pipe.PFAdd(ctx, key, e.Fingerprint)
			touched = append(touched, key)
		}

		if traffic {
			touched = append(touched, b.queueTraffic(ctx, pipe, e, day, record)...)
		}

		for _, key := range touched {
			pipe.ExpireAt(ctx, key, expireAt)
		}
		pipe.SAdd(ctx, b.keys.sites(), site)
		pipe.ZAdd(ctx, b.keys.days(), redis.Z{Score: float64(dayStart.Unix()), Member: dayMember(site, day)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s event: %w", dest, err)
	}
	return nil
}

func (b *Backend) queueTraffic(ctx context.Context, pipe redis.Pipeliner, e *models.Event, day string, record []byte) []string {
	site := e.Site

	eventsKey := b.keys.events(site, day)
	bucketKey := b.keys.bucket(site, day)
	hourlyKey := b.keys.hourly(site, day)
	touched := []string{eventsKey, bucketKey, hourlyKey}

	pipe.RPush(ctx, eventsKey, record)
	pipe.HIncrBy(ctx, bucketKey, "events", 1)
	if e.IsBot {
		pipe.HIncrBy(ctx, bucketKey, "bot_events", 1)
	}
	pipe.HIncrBy(ctx, hourlyKey, strconv.Itoa(b.cal.Hour(e.ReceivedAt)), 1)

	for _, d := range models.Dimensions {
		value := d.Value(e)
		if value == "" {
			continue
		}
		key := b.keys.dim(site, day, d)
		pipe.ZIncrBy(ctx, key, 1, value)
		touched = append(touched, key)
	}

	if e.Fingerprint != "" {
		key := b.keys.visitors(site, day)
		pipe.PFAdd(ctx, key, e.Fingerprint)
		touched = append(touched, key)
	}

	if !e.IsBot {
		key := b.keys.realtime(site)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(e.ReceivedAt.UnixMilli()), Member: e.ID})
		pipe.Expire(ctx, key, time.Hour)
	}

	return touched
}

func newEventRecord(e *models.Event) eventRecord {
	return eventRecord{
		Event:      e,
		ID:         e.ID,
		Country:    e.Country,
		Region:     e.Region,
		City:       e.City,
		IsBot:      e.IsBot,
		BotScore:   e.BotScore,
		ReceivedAt: e.ReceivedAt,
	}
}

func (b *Backend) ReadDay(ctx context.Context, q storage.DayQuery) (bucket *models.DailyBucket, err error) {
	defer func(start time.Time) { storage.Observe("read_day", start, err) }(time.Now())

	if _, err := b.cal.Start(q.Date); err != nil {
		return nil, err
	}

	var (
		counters *redis.MapStringStringCmd
		visitors *redis.IntCmd
		hourly   *redis.MapStringStringCmd
		dims     = make(map[models.Dimension]*redis.ZSliceCmd, len(models.Dimensions))
	)
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		counters = pipe.HGetAll(ctx, b.keys.bucket(q.Site, q.Date))
		visitors = pipe.PFCount(ctx, b.keys.visitors(q.Site, q.Date))
		hourly = pipe.HGetAll(ctx, b.keys.hourly(q.Site, q.Date))
		for _, d := range models.Dimensions {
			stop := int64(d.Limit() - 1)
			if q.Untruncated {
				stop = -1
			}
			dims[d] = pipe.ZRevRangeWithScores(ctx, b.keys.dim(q.Site, q.Date, d), 0, stop)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read day: %w", err)
	}

	bucket = models.NewDailyBucket(q.Site, q.Date)
	bucket.Events = parseInt(counters.Val()["events"])
	bucket.BotEvents = parseInt(counters.Val()["bot_events"])
	bucket.Visitors = visitors.Val()
	for h, v := range hourly.Val() {
		hour, err := strconv.Atoi(h)
		if err != nil || hour < 0 || hour > 23 {
			continue
		}
		bucket.Hourly[hour] = parseInt(v)
	}
	for d, cmd := range dims {
		for _, z := range cmd.Val() {
			name, _ := z.Member.(string)
			bucket.Dimensions[d] = append(bucket.Dimensions[d], models.Count{Name: name, Count: int64(z.Score)})
		}
	}

	funnel, err := b.Funnel(ctx, q.Site, q.Date, q.Date)
	if err != nil {
		return nil, err
	}
	bucket.Funnel = funnel

	return bucket, nil
}

func (b *Backend) ReadRealtime(ctx context.Context, site string) (n int64, err error) {
	defer func(start time.Time) { storage.Observe("read_realtime", start, err) }(time.Now())

	key := b.keys.realtime(site)
	cutoff := "(" + strconv.FormatInt(b.now().Add(-storage.RealtimeWindow).UnixMilli(), 10)

	var count *redis.IntCmd
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		count = pipe.ZCount(ctx, key, cutoff, "+inf")
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count realtime events: %w", err)
	}
	return count.Val(), nil
}

// Funnel estimates distinct fingerprints per stage with PFCOUNT over the
// union of the per-day HLLs, so fingerprints active on several days count once.
func (b *Backend) Funnel(ctx context.Context, site, from, to string) (f models.Funnel, err error) {
	defer func(start time.Time) { storage.Observe("funnel", start, err) }(time.Now())

	days, err := b.cal.Range(from, to)
	if err != nil {
		return f, err
	}
	if len(days) == 0 {
		return f, nil
	}

	cmds := make(map[string]*redis.IntCmd, len(funnelStages))
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, stage := range funnelStages {
			keys := make([]string, len(days))
			for i, day := range days {
				keys[i] = b.keys.funnel(site, day, stage)
			}
			cmds[stage] = pipe.PFCount(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		return f, fmt.Errorf("failed to compute funnel: %w", err)
	}

	return models.Funnel{
		Visits:  cmds[stageVisits].Val(),
		Signups: cmds[models.ConversionSignup].Val(),
		Paid:    cmds[models.ConversionPaid].Val(),
	}, nil
}

func (b *Backend) RecordError(ctx context.Context, rec *models.ErrorRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = b.now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode error record: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, b.keys.errors(rec.Site), redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: data})
		pipe.SAdd(ctx, b.keys.sites(), rec.Site)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store error record: %w", err)
	}
	return nil
}

func (b *Backend) RecentErrors(ctx context.Context, site string, limit int) ([]models.ErrorRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultErrorLimit
	}

	members, err := b.client.ZRevRange(ctx, b.keys.errors(site), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read errors: %w", err)
	}

	out := make([]models.ErrorRecord, 0, len(members))
	for _, m := range members {
		var rec models.ErrorRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (b *Backend) LogAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = b.now()
	}

	data, err := json.Marshal(auditRecord{ID: uuid.NewString(), AuditEntry: *entry})
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	err = b.client.ZAdd(ctx, b.keys.audit(), redis.Z{Score: float64(entry.CreatedAt.UnixMilli()), Member: data}).Err()
	if err != nil {
		return fmt.Errorf("failed to store audit entry: %w", err)
	}
	return nil
}

func (b *Backend) RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultAuditLimit
	}

	members, err := b.client.ZRevRange(ctx, b.keys.audit(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	out := make([]models.AuditEntry, 0, len(members))
	for _, m := range members {
		var rec auditRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			continue
		}
		out = append(out, rec.AuditEntry)
	}
	return out, nil
}

// Cleanup deletes site-days past the event horizon and trims the error,
// audit and realtime sets. Counts are keys or set members removed.
func (b *Backend) Cleanup(ctx context.Context, now time.Time) (res storage.CleanupResult, err error) {
	defer func(start time.Time) { storage.Observe("cleanup", start, err) }(time.Now())

	cutoffStart, err := b.cal.Start(b.cal.Day(now.Add(-storage.EventRetention)))
	if err != nil {
		return res, err
	}

	expired, err := b.client.ZRangeByScore(ctx, b.keys.days(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoffStart.Unix(), 10),
	}).Result()
	if err != nil {
		return res, fmt.Errorf("failed to list expired days: %w", err)
	}

	for _, member := range expired {
		site, day, ok := splitDayMember(member)
		if !ok {
			continue
		}
		var del *redis.IntCmd
		_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, b.keys.dayKeys(site, day)...)
			pipe.ZRem(ctx, b.keys.days(), member)
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("failed to delete day %s: %w", member, err)
		}
		res.Add("days", del.Val())
	}

	sites, err := b.client.SMembers(ctx, b.keys.sites()).Result()
	if err != nil {
		return res, fmt.Errorf("failed to list sites: %w", err)
	}

	errorCutoff := "(" + strconv.FormatInt(now.Add(-storage.ErrorRetention).UnixMilli(), 10)
	realtimeCutoff := "(" + strconv.FormatInt(now.Add(-storage.RealtimeWindow).UnixMilli(), 10)
	for _, site := range sites {
		n, err := b.client.ZRemRangeByScore(ctx, b.keys.errors(site), "-inf", errorCutoff).Result()
		if err != nil {
			return res, fmt.Errorf("failed to trim errors of %s: %w", site, err)
		}
		res.Add("errors", n)

		n, err = b.client.ZRemRangeByScore(ctx, b.keys.realtime(site), "-inf", realtimeCutoff).Result()
		if err != nil {
			return res, fmt.Errorf("failed to trim realtime of %s: %w", site, err)
		}
		res.Add("realtime", n)
	}

	auditCutoff := "(" + strconv.FormatInt(now.Add(-storage.AuditRetention).UnixMilli(), 10)
	n, err := b.client.ZRemRangeByScore(ctx, b.keys.audit(), "-inf", auditCutoff).Result()
	if err != nil {
		return res, fmt.Errorf("failed to trim audit log: %w", err)
	}
	res.Add("audit_log", n)

	return res, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Backend) Close() error {
	if b.owned {
		return b.client.Close()
	}
	return nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
