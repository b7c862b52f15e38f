// Package storagetest holds behaviour tests every storage.Backend must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numberoneson/nos-analytics/analytics/internal/classifier"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/rollup"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
)

// Clock is a settable time source shared between a test and its backend.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Factory returns an empty, initialised backend using UTC days and clock.Now.
type Factory func(t *testing.T, clock *Clock) storage.Backend

// Base returns 10:00 UTC today. Writes are never placed in the past so
// absolute key expiry cannot remove them during a test.
func Base() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).Add(10 * time.Hour)
}

// Run executes the shared scenarios against backends built by factory.
func Run(t *testing.T, factory Factory) {
	scenarios := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend, clock *Clock)
	}{
		{"ZeroDay", testZeroDay},
		{"TwoFingerprints", testTwoFingerprints},
		{"SignupThenPaid", testSignupThenPaid},
		{"FlaggedBotsCounted", testFlaggedBotsCounted},
		{"DroppedNotPersisted", testDroppedNotPersisted},
		{"ConversionBypassesDrop", testConversionBypassesDrop},
		{"ErrorsOnlyInSink", testErrorsOnlyInSink},
		{"CompositeDimensions", testCompositeDimensions},
		{"TopNTruncation", testTopNTruncation},
		{"Hourly", testHourly},
		{"Realtime", testRealtime},
		{"PeriodFunnelDistinct", testPeriodFunnelDistinct},
		{"CleanupIdempotent", testCleanupIdempotent},
		{"Audit", testAudit},
		{"InitIdempotent", testInitIdempotent},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			clock := NewClock(Base())
			b := factory(t, clock)
			sc.fn(t, b, clock)
		})
	}
}

func day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Pageview builds a genuine pageview received at at.
func Pageview(site, fp, path string, at time.Time) *models.Event {
	return &models.Event{
		Site:        site,
		Type:        models.TypePageview,
		Path:        path,
		Fingerprint: fp,
		Browser:     "Firefox",
		OS:          "Linux",
		DeviceType:  "desktop",
		Screen:      "1920x1080",
		Timestamp:   at.UnixMilli(),
		ReceivedAt:  at,
	}
}

func conversion(site, kind, fp string, at time.Time) *models.Event {
	e := Pageview(site, fp, "/checkout", at)
	e.Type = models.TypeEvent
	e.Name = kind
	return e
}

func write(t *testing.T, b storage.Backend, e *models.Event, dest classifier.Destination) {
	t.Helper()
	require.NoError(t, b.Write(context.Background(), e, dest))
}

func readDay(t *testing.T, b storage.Backend, site, date string) *models.DailyBucket {
	t.Helper()
	bucket, err := b.ReadDay(context.Background(), storage.DayQuery{Site: site, Date: date})
	require.NoError(t, err)
	return bucket
}

func testZeroDay(t *testing.T, b storage.Backend, clock *Clock) {
	bucket := readDay(t, b, "demo", day(clock.Now()))

	assert.Zero(t, bucket.Events)
	assert.Zero(t, bucket.BotEvents)
	assert.Zero(t, bucket.Visitors)
	assert.Equal(t, [24]int64{}, bucket.Hourly)
	assert.Equal(t, models.Funnel{}, bucket.Funnel)
	for _, d := range models.Dimensions {
		assert.NotNil(t, bucket.Dimensions[d], "dimension %s", d)
		assert.Empty(t, bucket.Dimensions[d], "dimension %s", d)
	}
}

func testTwoFingerprints(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	write(t, b, Pageview("demo", "abc123", "/", now), classifier.Standard)
	write(t, b, Pageview("demo", "def456", "/", now), classifier.Standard)

	bucket := readDay(t, b, "demo", day(now))
	assert.Equal(t, int64(2), bucket.Events)
	assert.Equal(t, int64(2), bucket.Visitors)
	assert.Equal(t, []models.Count{{Name: "/", Count: 2}}, bucket.Dimensions[models.DimPages])
	assert.Equal(t, []models.Count{{Name: "Firefox", Count: 2}}, bucket.Dimensions[models.DimBrowsers])
	assert.Equal(t, int64(2), bucket.Funnel.Visits)

	// Other sites are untouched.
	other := readDay(t, b, "other", day(now))
	assert.Zero(t, other.Events)
}

func testSignupThenPaid(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	write(t, b, conversion("demo", "signup", "x", now), classifier.Conversion)
	write(t, b, conversion("demo", "paid", "x", now), classifier.Conversion)

	f, err := b.Funnel(context.Background(), "demo", day(now), day(now))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Signups)
	assert.Equal(t, int64(1), f.Paid)
	assert.LessOrEqual(t, f.Paid, f.Signups)

	// Conversions with a traffic-range score also count as events.
	bucket := readDay(t, b, "demo", day(now))
	assert.Equal(t, int64(2), bucket.Events)
	assert.Equal(t, f, bucket.Funnel)
}

func testFlaggedBotsCounted(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	human := Pageview("demo", "human1", "/", now)
	bot := Pageview("demo", "bot001", "/", now)
	bot.IsBot = true
	bot.BotScore = 60

	write(t, b, human, classifier.Standard)
	write(t, b, bot, classifier.Standard)

	bucket := readDay(t, b, "demo", day(now))
	assert.Equal(t, int64(2), bucket.Events)
	assert.Equal(t, int64(1), bucket.BotEvents)
	assert.Equal(t, int64(1), bucket.Funnel.Visits, "flagged bots are not funnel visits")

	clock.Set(now.Add(time.Minute))
	n, err := b.ReadRealtime(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "flagged bots are excluded from realtime")
}

func testDroppedNotPersisted(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	e := Pageview("demo", "", "/", now)
	e.BotScore = 95
	e.IsBot = true
	write(t, b, e, classifier.Dropped)

	bucket := readDay(t, b, "demo", day(now))
	assert.Zero(t, bucket.Events)
	assert.Empty(t, bucket.Dimensions[models.DimPages])
}

func testConversionBypassesDrop(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	e := conversion("demo", "signup", "maxbot", now)
	e.BotScore = 100
	e.IsBot = true
	write(t, b, e, classifier.Conversion)

	f, err := b.Funnel(context.Background(), "demo", day(now), day(now))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Signups)

	bucket := readDay(t, b, "demo", day(now))
	assert.Zero(t, bucket.Events, "drop-range conversions stay out of traffic counters")
}

func testErrorsOnlyInSink(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	line := 42
	e := &models.Event{
		Site: "demo", Type: models.TypeError, URL: "https://demo.example/app",
		ErrorMessage: "TypeError: x is undefined", ErrorSource: "app.js", ErrorLine: &line,
		Fingerprint: "abc123", ReceivedAt: now,
	}
	write(t, b, e, classifier.Error)
	require.NoError(t, b.RecordError(context.Background(), &models.ErrorRecord{
		Site: models.SystemSite, Message: "cleanup failed", CreatedAt: now.Add(time.Second),
	}))

	bucket := readDay(t, b, "demo", day(now))
	assert.Zero(t, bucket.Events)

	recs, err := b.RecentErrors(context.Background(), "demo", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "TypeError: x is undefined", recs[0].Message)
	assert.Equal(t, "app.js", recs[0].Source)
	require.NotNil(t, recs[0].Line)
	assert.Equal(t, 42, *recs[0].Line)

	sys, err := b.RecentErrors(context.Background(), models.SystemSite, 10)
	require.NoError(t, err)
	require.Len(t, sys, 1)
	assert.Equal(t, "cleanup failed", sys[0].Message)
}

func testCompositeDimensions(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	e := Pageview("demo", "abc123", "/pricing", now)
	e.Country, e.Region, e.City = "Canada", "Ontario", "Toronto"
	e.UTMSource, e.UTMMedium, e.UTMCampaign = "newsletter", "email", "spring"
	e.Referrer = "https://news.ycombinator.com/"
	write(t, b, e, classifier.Standard)

	bucket := readDay(t, b, "demo", day(now))
	assert.Equal(t, []models.Count{{Name: "Canada:Ontario:Toronto", Count: 1}}, bucket.Dimensions[models.DimCountries])
	assert.Equal(t, []models.Count{{Name: "newsletter|email|spring", Count: 1}}, bucket.Dimensions[models.DimCampaigns])
	assert.Equal(t, []models.Count{{Name: "https://news.ycombinator.com/", Count: 1}}, bucket.Dimensions[models.DimReferrers])
	assert.Equal(t, []models.Count{{Name: "desktop", Count: 1}}, bucket.Dimensions[models.DimDevices])
	assert.Equal(t, []models.Count{{Name: "Linux", Count: 1}}, bucket.Dimensions[models.DimOS])
}

func testTopNTruncation(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	// /p00 gets 25 hits, /p01 24, ... /p24 1.
	for i := 0; i < 25; i++ {
		for n := 0; n < 25-i; n++ {
			write(t, b, Pageview("demo", fmt.Sprintf("fp%03d", n), fmt.Sprintf("/p%02d", i), now), classifier.Standard)
		}
	}
	// Two ties at count 1 beyond the top: ordering breaks ties by value descending.
	write(t, b, Pageview("demo", "tie1", "/a", now), classifier.Standard)

	bucket := readDay(t, b, "demo", day(now))
	pages := bucket.Dimensions[models.DimPages]
	require.Len(t, pages, models.DimPages.Limit())
	assert.Equal(t, models.Count{Name: "/p00", Count: 25}, pages[0])
	assert.Equal(t, models.Count{Name: "/p19", Count: 6}, pages[19])

	full, err := b.ReadDay(context.Background(), storage.DayQuery{Site: "demo", Date: day(now), Untruncated: true})
	require.NoError(t, err)
	all := full.Dimensions[models.DimPages]
	require.Len(t, all, 26)
	assert.Equal(t, models.Count{Name: "/p24", Count: 1}, all[24])
	assert.Equal(t, models.Count{Name: "/a", Count: 1}, all[25])
	assert.Equal(t, int64(25*26/2+1), full.Events)

	// The merge ranking agrees with the backend's own order, ties included.
	reranked := rollup.TopN(append([]models.Count(nil), all...), 0)
	assert.Equal(t, all, reranked)
}

func testHourly(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	start := now.Truncate(24 * time.Hour)
	write(t, b, Pageview("demo", "abc123", "/", start.Add(time.Hour)), classifier.Standard)
	write(t, b, Pageview("demo", "abc123", "/", start.Add(10*time.Hour+5*time.Minute)), classifier.Standard)
	write(t, b, Pageview("demo", "def456", "/", start.Add(10*time.Hour+50*time.Minute)), classifier.Standard)

	bucket := readDay(t, b, "demo", day(now))
	assert.Equal(t, int64(1), bucket.Hourly[1])
	assert.Equal(t, int64(2), bucket.Hourly[10])
	assert.Equal(t, int64(3), bucket.Events)
}

func testRealtime(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	write(t, b, Pageview("demo", "abc123", "/", now), classifier.Standard)
	write(t, b, Pageview("demo", "def456", "/about", now.Add(2*time.Minute)), classifier.Standard)

	ctx := context.Background()

	clock.Set(now.Add(3 * time.Minute))
	n, err := b.ReadRealtime(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	clock.Set(now.Add(6 * time.Minute))
	n, err = b.ReadRealtime(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = b.ReadRealtime(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testPeriodFunnelDistinct(t *testing.T, b storage.Backend, clock *Clock) {
	now := clock.Now()
	tomorrow := now.Add(24 * time.Hour)
	write(t, b, Pageview("demo", "repeat1", "/", now), classifier.Standard)
	write(t, b, Pageview("demo", "repeat1", "/", tomorrow), classifier.Standard)
	write(t, b, conversion("demo", "signup", "repeat1", now), classifier.Conversion)
	write(t, b, conversion("demo", "signup", "repeat1", tomorrow), classifier.Conversion)

	ctx := context.Background()
	period, err := b.Funnel(ctx, "demo", day(now), day(tomorrow))
	require.NoError(t, err)
	assert.Equal(t, models.Funnel{Visits: 1, Signups: 1}, period)

	d1 := readDay(t, b, "demo", day(now))
	d2 := readDay(t, b, "demo", day(tomorrow))
	assert.Equal(t, int64(2), d1.Funnel.Visits+d2.Funnel.Visits)
}

func testCleanupIdempotent(t *testing.T, b storage.Backend, clock *Clock) {
	ctx := context.Background()
	now := clock.Now()
	write(t, b, Pageview("demo", "abc123", "/", now), classifier.Standard)
	write(t, b, conversion("demo", "signup", "abc123", now), classifier.Conversion)
	require.NoError(t, b.RecordError(ctx, &models.ErrorRecord{Site: "demo", Message: "boom", CreatedAt: now}))
	require.NoError(t, b.LogAudit(ctx, &models.AuditEntry{Action: "login", IP: "1.2.3.4", Success: true, CreatedAt: now}))

	// Nothing has expired yet.
	res, err := b.Cleanup(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)

	later := now.Add(95 * 24 * time.Hour)
	res, err = b.Cleanup(ctx, later)
	require.NoError(t, err)
	assert.Positive(t, res.Deleted)

	res, err = b.Cleanup(ctx, later)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted, "second cleanup must delete nothing")

	bucket := readDay(t, b, "demo", day(now))
	assert.Zero(t, bucket.Events)

	recs, err := b.RecentErrors(ctx, "demo", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	audit, err := b.RecentAudit(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func testAudit(t *testing.T, b storage.Backend, clock *Clock) {
	ctx := context.Background()
	now := clock.Now()
	require.NoError(t, b.LogAudit(ctx, &models.AuditEntry{Action: "login", IP: "1.2.3.4", UserAgent: "curl", Success: false, CreatedAt: now}))
	require.NoError(t, b.LogAudit(ctx, &models.AuditEntry{Action: "login", IP: "1.2.3.4", UserAgent: "curl", Success: true, CreatedAt: now.Add(time.Second)}))

	entries, err := b.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Success)
	assert.False(t, entries[1].Success)
	assert.Equal(t, "curl", entries[0].UserAgent)

	entries, err = b.RecentAudit(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func testInitIdempotent(t *testing.T, b storage.Backend, clock *Clock) {
	ctx := context.Background()
	require.NoError(t, b.Init(ctx))
	require.NoError(t, b.Init(ctx))
	require.NoError(t, b.Ping(ctx))
}
