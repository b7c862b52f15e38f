package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numberoneson/nos-analytics/analytics/internal/classifier"
	"github.com/numberoneson/nos-analytics/analytics/internal/config"
	"github.com/numberoneson/nos-analytics/analytics/internal/dlq"
	"github.com/numberoneson/nos-analytics/analytics/internal/geo"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/normalizer"
	"github.com/numberoneson/nos-analytics/analytics/internal/ratelimit"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage/redisstore"
)

var sites = []config.SiteConfig{
	{ID: "portfolio", Label: "Portfolio"},
	{ID: "shop", Label: "Shop"},
}

func siteIDs() []string {
	ids := make([]string, len(sites))
	for i, s := range sites {
		ids[i] = s.ID
	}
	return ids
}

// fakeBackend records calls and fails on demand.
type fakeBackend struct {
	mu         sync.Mutex
	writes     []*models.Event
	dests      []classifier.Destination
	errors     []*models.ErrorRecord
	writeErr   error
	cleanupErr error
	cleanup    storage.CleanupResult
}

func (f *fakeBackend) Init(context.Context) error { return nil }

func (f *fakeBackend) Write(_ context.Context, e *models.Event, dest classifier.Destination) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, e)
	f.dests = append(f.dests, dest)
	return nil
}

func (f *fakeBackend) ReadDay(_ context.Context, q storage.DayQuery) (*models.DailyBucket, error) {
	return models.NewDailyBucket(q.Site, q.Date), nil
}

func (f *fakeBackend) ReadRealtime(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeBackend) Funnel(context.Context, string, string, string) (models.Funnel, error) {
	return models.Funnel{}, nil
}

func (f *fakeBackend) RecordError(_ context.Context, rec *models.ErrorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, rec)
	return nil
}

func (f *fakeBackend) RecentErrors(context.Context, string, int) ([]models.ErrorRecord, error) {
	return nil, nil
}

func (f *fakeBackend) LogAudit(context.Context, *models.AuditEntry) error { return nil }

func (f *fakeBackend) RecentAudit(context.Context, int) ([]models.AuditEntry, error) {
	return nil, nil
}

func (f *fakeBackend) Cleanup(context.Context, time.Time) (storage.CleanupResult, error) {
	return f.cleanup, f.cleanupErr
}

func (f *fakeBackend) Ping(context.Context) error { return nil }
func (f *fakeBackend) Close() error               { return nil }

type recordingDLQ struct {
	events  []*models.Event
	reasons []string
}

func (r *recordingDLQ) Write(_ context.Context, e *models.Event, _ error, reason string) error {
	r.events = append(r.events, e)
	r.reasons = append(r.reasons, reason)
	return nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func payload(t *testing.T, fields map[string]any) io.Reader {
	t.Helper()
	base := map[string]any{
		"site":       "portfolio",
		"type":       "pageview",
		"url":        "https://example.com/pricing",
		"fp":         "fp-abc",
		"browser":    "Firefox",
		"os":         "Linux",
		"deviceType": "desktop",
		"screen":     "1920x1080",
		"ts":         now.UnixMilli(),
	}
	for k, v := range fields {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	b, err := json.Marshal(base)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// trackingReader records whether the body was consumed.
type trackingReader struct {
	r    io.Reader
	read bool
}

func (t *trackingReader) Read(p []byte) (int, error) {
	t.read = true
	return t.r.Read(p)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func newIngest(backend storage.Backend, deps IngestDeps) *IngestService {
	deps.Backend = backend
	deps.Normalizer = normalizer.New(siteIDs())
	deps.Now = func() time.Time { return now }
	if deps.Locator == nil {
		deps.Locator = geo.Static{Country: "Germany", Region: "Berlin", City: "Berlin"}
	}
	return NewIngestService(deps)
}

func TestCollect_StoresGenuinePageview(t *testing.T) {
	backend := &fakeBackend{}
	svc := newIngest(backend, IngestDeps{})

	dest, err := svc.Collect(context.Background(), payload(t, nil), RequestMeta{Addr: "203.0.113.7", UserAgent: "Mozilla/5.0"})
	require.NoError(t, err)
	assert.Equal(t, classifier.Standard, dest)

	require.Len(t, backend.writes, 1)
	e := backend.writes[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "/pricing", e.Path)
	assert.Equal(t, "Germany", e.Country)
	assert.Equal(t, "Berlin", e.City)
	assert.Equal(t, "203.0.113.7", e.SourceAddress)
	assert.Equal(t, "Mozilla/5.0", e.UserAgent)
	assert.False(t, e.IsBot)
	assert.Equal(t, now, e.ReceivedAt)
}

func TestCollect_ValidationNotPersisted(t *testing.T) {
	tests := []struct {
		name string
		body io.Reader
	}{
		{"malformed json", strings.NewReader("{not json")},
		{"array body", strings.NewReader(`[{"site":"portfolio"}]`)},
		{"unknown site", payload(t, map[string]any{"site": "elsewhere"})},
		{"missing site", payload(t, map[string]any{"site": nil})},
		{"unknown type", payload(t, map[string]any{"type": "heartbeat"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			svc := newIngest(backend, IngestDeps{})

			_, err := svc.Collect(context.Background(), tt.body, RequestMeta{Addr: "203.0.113.7"})
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.True(t, IsClientError(err))
			assert.Empty(t, backend.writes)
		})
	}
}

func TestCollect_RateLimited(t *testing.T) {
	backend := &fakeBackend{}
	gate := ratelimit.NewFixedWindow(ratelimit.NewMemoryStore(), time.Minute,
		ratelimit.WithClock(func() time.Time { return now }))
	svc := newIngest(backend, IngestDeps{Gate: gate, MaxPerWindow: 2})

	meta := RequestMeta{Addr: "198.51.100.1"}
	for i := 0; i < 2; i++ {
		_, err := svc.Collect(context.Background(), payload(t, nil), meta)
		require.NoError(t, err)
	}
	_, err := svc.Collect(context.Background(), payload(t, nil), meta)
	assert.ErrorIs(t, err, models.ErrAdmissionDenied)
	assert.Len(t, backend.writes, 2)

	_, err = svc.Collect(context.Background(), payload(t, nil), RequestMeta{Addr: "198.51.100.2"})
	assert.NoError(t, err)
}

func TestCollect_DeniedRequestBodyNotRead(t *testing.T) {
	gate := ratelimit.NewFixedWindow(ratelimit.NewMemoryStore(), time.Minute,
		ratelimit.WithClock(func() time.Time { return now }))
	svc := newIngest(&fakeBackend{}, IngestDeps{Gate: gate, MaxPerWindow: 1})
	meta := RequestMeta{Addr: "198.51.100.3"}

	_, err := svc.Collect(context.Background(), payload(t, nil), meta)
	require.NoError(t, err)

	body := &trackingReader{r: payload(t, nil)}
	_, err = svc.Collect(context.Background(), body, meta)
	assert.ErrorIs(t, err, models.ErrAdmissionDenied)
	assert.False(t, body.read)
}

func TestCollect_UnreadableBody(t *testing.T) {
	backend := &fakeBackend{}
	svc := newIngest(backend, IngestDeps{})
	cause := errors.New("connection reset")

	_, err := svc.Collect(context.Background(), failingReader{err: cause}, RequestMeta{Addr: "203.0.113.7"})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, backend.writes)
}

func TestCollect_MistypedOptionalFieldsAccepted(t *testing.T) {
	backend := &fakeBackend{}
	svc := newIngest(backend, IngestDeps{})

	body := payload(t, map[string]any{
		"type":   "event",
		"event":  "paid",
		"amount": "29",
		"userId": 42,
		"plan":   "pro",
	})
	dest, err := svc.Collect(context.Background(), body, RequestMeta{Addr: "203.0.113.7"})
	require.NoError(t, err)
	assert.Equal(t, classifier.Conversion, dest)

	require.Len(t, backend.writes, 1)
	e := backend.writes[0]
	require.NotNil(t, e.Amount)
	assert.Equal(t, 29.0, *e.Amount)
	assert.Equal(t, "42", e.UserID)
}

func TestCollect_DroppedBotAcknowledgedNotStored(t *testing.T) {
	backend := &fakeBackend{}
	svc := newIngest(backend, IngestDeps{})

	body := payload(t, map[string]any{
		"fp":         nil,
		"browser":    nil,
		"os":         nil,
		"screen":     nil,
		"deviceType": nil,
	})
	dest, err := svc.Collect(context.Background(), body, RequestMeta{Addr: "203.0.113.7"})
	require.NoError(t, err)
	assert.Equal(t, classifier.Dropped, dest)
	assert.Empty(t, backend.writes)
}

func TestCollect_FlaggedBotStoredWithFlag(t *testing.T) {
	backend := &fakeBackend{}
	svc := newIngest(backend, IngestDeps{})

	// missing fingerprint and screen: 30 + 10 + clock drift 25 = 65
	body := payload(t, map[string]any{
		"fp":     nil,
		"screen": nil,
		"ts":     now.Add(-48 * time.Hour).UnixMilli(),
	})
	dest, err := svc.Collect(context.Background(), body, RequestMeta{Addr: "203.0.113.7"})
	require.NoError(t, err)
	assert.Equal(t, classifier.Standard, dest)
	require.Len(t, backend.writes, 1)
	assert.True(t, backend.writes[0].IsBot)
}

func TestCollect_ConversionBypassesDrop(t *testing.T) {
	backend := &fakeBackend{}
	svc := newIngest(backend, IngestDeps{})

	body := payload(t, map[string]any{
		"type":       "event",
		"event":      "Signup",
		"fp":         nil,
		"browser":    nil,
		"os":         nil,
		"screen":     nil,
		"deviceType": nil,
	})
	dest, err := svc.Collect(context.Background(), body, RequestMeta{Addr: "203.0.113.7"})
	require.NoError(t, err)
	assert.Equal(t, classifier.Conversion, dest)
	require.Len(t, backend.writes, 1)
	assert.Equal(t, models.ConversionSignup, backend.writes[0].Name)
}

func TestCollect_ErrorEventSkipsGeo(t *testing.T) {
	backend := &fakeBackend{}
	svc := newIngest(backend, IngestDeps{})

	body := payload(t, map[string]any{"type": "error", "errorMessage": "TypeError: x is undefined"})
	dest, err := svc.Collect(context.Background(), body, RequestMeta{Addr: "203.0.113.7"})
	require.NoError(t, err)
	assert.Equal(t, classifier.Error, dest)
	require.Len(t, backend.writes, 1)
	assert.Empty(t, backend.writes[0].Country)
}

func TestCollect_WriteFailureGoesToSinkAndDLQ(t *testing.T) {
	backend := &fakeBackend{writeErr: errors.New("connection refused")}
	queue := &recordingDLQ{}
	svc := newIngest(backend, IngestDeps{DLQ: queue})

	_, err := svc.Collect(context.Background(), payload(t, nil), RequestMeta{Addr: "203.0.113.7"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	assert.False(t, IsClientError(err))

	require.Len(t, backend.errors, 1)
	assert.Equal(t, models.SystemSite, backend.errors[0].Site)
	assert.Contains(t, backend.errors[0].Message, "connection refused")

	require.Len(t, queue.events, 1)
	assert.Equal(t, dlq.ReasonStorage, queue.reasons[0])
	assert.Equal(t, "portfolio", queue.events[0].Site)
}

func TestQueryService_Days(t *testing.T) {
	q := NewQueryService(&fakeBackend{}, storage.NewCalendar(time.UTC), sites, config.QueryConfig{})
	assert.Equal(t, DefaultDays, q.DefaultDays())
	assert.Equal(t, 1, q.Days(0))
	assert.Equal(t, 1, q.Days(-5))
	assert.Equal(t, 7, q.Days(7))
	assert.Equal(t, 90, q.Days(365))

	q = NewQueryService(&fakeBackend{}, storage.NewCalendar(time.UTC), sites, config.QueryConfig{DefaultDays: 7, MaxDays: 14})
	assert.Equal(t, 7, q.DefaultDays())
	assert.Equal(t, 1, q.Days(0))
	assert.Equal(t, 14, q.Days(30))

	q = NewQueryService(&fakeBackend{}, storage.NewCalendar(time.UTC), sites, config.QueryConfig{DefaultDays: 60, MaxDays: 14})
	assert.Equal(t, 14, q.DefaultDays())
}

func TestQueryService_ZeroDaysIsOneDay(t *testing.T) {
	q := NewQueryService(&fakeBackend{}, storage.NewCalendar(time.UTC), sites, config.QueryConfig{}).
		WithClock(func() time.Time { return now })

	r, err := q.Site(context.Background(), "portfolio", 0)
	require.NoError(t, err)
	assert.Equal(t, "1d", r.Period)
	assert.Len(t, r.Daily, 1)
}

func TestQueryService_UnknownSite(t *testing.T) {
	q := NewQueryService(&fakeBackend{}, storage.NewCalendar(time.UTC), sites, config.QueryConfig{})
	_, err := q.Site(context.Background(), "elsewhere", 7)
	assert.ErrorIs(t, err, models.ErrUnknownSite)

	_, err = q.RecentErrors(context.Background(), "elsewhere", 0)
	assert.ErrorIs(t, err, models.ErrUnknownSite)

	_, err = q.RecentErrors(context.Background(), models.SystemSite, 0)
	assert.NoError(t, err)
}

func TestQueryService_ZeroDays(t *testing.T) {
	q := NewQueryService(&fakeBackend{}, storage.NewCalendar(time.UTC), sites, config.QueryConfig{}).
		WithClock(func() time.Time { return now })

	r, err := q.Site(context.Background(), "portfolio", 7)
	require.NoError(t, err)
	assert.Equal(t, "Portfolio", r.Label)
	assert.Equal(t, "7d", r.Period)
	assert.Len(t, r.Daily, 7)
	assert.Len(t, r.TodayHourly, 24)
	assert.Zero(t, r.Totals.Events)
	assert.Empty(t, r.Pages)
}

func newRedisBackend(t *testing.T, clock func() time.Time) storage.Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.NewWithClient(client, redisstore.Options{
		Calendar: storage.NewCalendar(time.UTC),
		Now:      clock,
	})
}

func TestEndToEnd_CollectThenQuery(t *testing.T) {
	clock := time.Now().UTC().Truncate(time.Second)
	nowFn := func() time.Time { return clock }
	backend := newRedisBackend(t, nowFn)

	ingest := NewIngestService(IngestDeps{
		Backend:    backend,
		Normalizer: normalizer.New(siteIDs()),
		Locator:    geo.Static{Country: "Japan", Region: "Tokyo", City: "Tokyo"},
		Now:        nowFn,
	})
	ctx := context.Background()
	collect := func(fields map[string]any) {
		t.Helper()
		fields["ts"] = clock.UnixMilli()
		_, err := ingest.Collect(ctx, payload(t, fields), RequestMeta{Addr: "203.0.113.9"})
		require.NoError(t, err)
	}

	collect(map[string]any{"fp": "visitor-1", "url": "https://example.com/"})
	collect(map[string]any{"fp": "visitor-1", "url": "https://example.com/pricing"})
	collect(map[string]any{"fp": "visitor-2", "url": "https://example.com/"})
	collect(map[string]any{"type": "event", "event": "signup", "fp": "visitor-2"})
	collect(map[string]any{"site": "shop", "fp": "visitor-3"})

	q := NewQueryService(backend, storage.NewCalendar(time.UTC), sites, config.QueryConfig{}).
		WithClock(nowFn)

	r, err := q.Site(ctx, "portfolio", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), r.Totals.Events)
	assert.Equal(t, int64(2), r.Totals.Visitors)
	assert.Equal(t, int64(4), r.Realtime)
	assert.Equal(t, int64(2), r.Funnel.Visits)
	assert.Equal(t, int64(1), r.Funnel.Signups)
	require.NotEmpty(t, r.Pages)
	assert.Equal(t, models.Count{Name: "/", Count: 2}, r.Pages[0])
	require.NotEmpty(t, r.Countries)
	assert.Equal(t, "Japan:Tokyo:Tokyo", r.Countries[0].Name)

	all, err := q.All(ctx, 7)
	require.NoError(t, err)
	require.Len(t, all.Sites, 2)
	assert.Equal(t, "Portfolio", all.Sites[0].Label)
	assert.Equal(t, "Shop", all.Sites[1].Label)
	assert.Equal(t, int64(5), all.Summary.Events)
	assert.Equal(t, int64(5), all.Summary.Realtime)
}

type fakePurger struct {
	before time.Time
	n      int64
	err    error
}

func (p *fakePurger) Purge(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return p.n, p.err
}

func TestMaintenance_Cleanup(t *testing.T) {
	backend := &fakeBackend{}
	backend.cleanup.Add("events", 3)
	purger := &fakePurger{n: 2}

	svc := NewMaintenanceService(backend, purger, nil).WithClock(func() time.Time { return now })
	res, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Deleted)
	assert.Equal(t, int64(2), res.ByKind["rate_limits"])
	assert.Equal(t, now.Add(-storage.RateLimitRetention), purger.before)
}

func TestMaintenance_FailureRecordedInSystemSink(t *testing.T) {
	backend := &fakeBackend{cleanupErr: errors.New("lock timeout")}
	svc := NewMaintenanceService(backend, nil, nil).WithClock(func() time.Time { return now })

	_, err := svc.Cleanup(context.Background())
	require.Error(t, err)
	require.Len(t, backend.errors, 1)
	assert.Equal(t, models.SystemSite, backend.errors[0].Site)
	assert.Contains(t, backend.errors[0].Message, "lock timeout")
}
