package redisstore

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numberoneson/nos-analytics/analytics/internal/classifier"
	"github.com/numberoneson/nos-analytics/analytics/internal/models"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage"
	"github.com/numberoneson/nos-analytics/analytics/internal/storage/storagetest"
)

func setupTestRedis(t *testing.T, clock *storagetest.Clock) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := NewWithClient(client, Options{
		Prefix:   "test",
		Calendar: storage.NewCalendar(time.UTC),
		Now:      clock.Now,
	})
	require.NoError(t, b.Init(context.Background()))
	return b, mr
}

func TestBackendConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock *storagetest.Clock) storage.Backend {
		b, _ := setupTestRedis(t, clock)
		return b
	})
}

func TestWrite_KeyLayout(t *testing.T) {
	clock := storagetest.NewClock(storagetest.Base())
	b, mr := setupTestRedis(t, clock)

	now := clock.Now()
	day := now.Format(time.DateOnly)
	e := storagetest.Pageview("demo", "abc123", "/", now)
	e.Country = "Canada"
	require.NoError(t, b.Write(context.Background(), e, classifier.Standard))

	assert.True(t, mr.Exists("test:demo:"+day+":bucket"))
	assert.Equal(t, "1", mr.HGet("test:demo:"+day+":bucket", "events"))
	assert.Equal(t, "1", mr.HGet("test:demo:"+day+":hourly", "10"))
	assert.True(t, mr.Exists("test:demo:"+day+":dim:countries"))
	assert.True(t, mr.Exists("test:demo:realtime"))

	members, err := mr.SMembers("test:sites")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, members)

	ttl := mr.TTL("test:demo:" + day + ":bucket")
	assert.Positive(t, ttl)

	list, err := mr.List("test:demo:" + day + ":events")
	require.NoError(t, err)
	require.Len(t, list, 1)

	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(list[0]), &stored))
	assert.Equal(t, "Canada", stored["country"])
	assert.Equal(t, "abc123", stored["fp"])
	assert.Equal(t, e.ID, stored["id"])
}

func TestWrite_FailsWhenRedisDown(t *testing.T) {
	clock := storagetest.NewClock(storagetest.Base())
	b, mr := setupTestRedis(t, clock)
	mr.Close()

	err := b.Write(context.Background(), storagetest.Pageview("demo", "abc123", "/", clock.Now()), classifier.Standard)
	assert.Error(t, err)
}

func TestWrite_DroppedTouchesNothing(t *testing.T) {
	clock := storagetest.NewClock(storagetest.Base())
	b, mr := setupTestRedis(t, clock)

	e := storagetest.Pageview("demo", "abc123", "/", clock.Now())
	require.NoError(t, b.Write(context.Background(), e, classifier.Dropped))
	assert.Empty(t, mr.Keys())
}

func TestVisitorsEstimateWithinBound(t *testing.T) {
	clock := storagetest.NewClock(storagetest.Base())
	b, _ := setupTestRedis(t, clock)
	ctx := context.Background()
	now := clock.Now()

	const n = 2000
	for i := 0; i < n; i++ {
		fp := "visitor-" + strconv.Itoa(i)
		require.NoError(t, b.Write(ctx, storagetest.Pageview("demo", fp, "/", now), classifier.Standard))
	}

	bucket, err := b.ReadDay(ctx, storage.DayQuery{Site: "demo", Date: now.Format(time.DateOnly)})
	require.NoError(t, err)

	assert.Equal(t, int64(n), bucket.Events, "event totals are exact")
	assert.Equal(t, []models.Count{{Name: "/", Count: n}}, bucket.Dimensions[models.DimPages])
	// Allow five standard errors.
	assert.InEpsilon(t, n, bucket.Visitors, 5*StandardError)
	assert.InEpsilon(t, n, bucket.Funnel.Visits, 5*StandardError)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-valid-url", Options{})
	assert.Error(t, err)
}

func TestNew_Owned(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := New(context.Background(), "redis://"+mr.Addr(), Options{})
	require.NoError(t, err)
	assert.NoError(t, b.Ping(context.Background()))
	assert.NoError(t, b.Close())
}
