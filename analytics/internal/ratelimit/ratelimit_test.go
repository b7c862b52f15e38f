package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 5, 0, time.UTC)}
}

func TestNoOp(t *testing.T) {
	gate := NoOp{}
	for i := 0; i < 10; i++ {
		assert.True(t, gate.Admit(context.Background(), "1.2.3.4", 1))
	}
	assert.NoError(t, gate.Close())
}

func TestFixedWindow_MemoryStore(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	gate := NewFixedWindow(NewMemoryStore(), time.Minute, WithClock(clock.Now))
	defer gate.Close()

	const max = 5
	for i := 1; i <= max; i++ {
		assert.True(t, gate.Admit(ctx, "10.0.0.1", max), "request %d", i)
	}
	assert.False(t, gate.Admit(ctx, "10.0.0.1", max), "request max+1 must be denied")

	// Other addresses have their own counters.
	assert.True(t, gate.Admit(ctx, "10.0.0.2", max))

	// Still inside the window.
	clock.Advance(30 * time.Second)
	assert.False(t, gate.Admit(ctx, "10.0.0.1", max))

	// Window elapsed: counter resets.
	clock.Advance(30 * time.Second)
	assert.True(t, gate.Admit(ctx, "10.0.0.1", max))
}

func TestFixedWindow_PurgesElapsedWindows(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewMemoryStore()
	gate := NewFixedWindow(store, time.Minute, WithClock(clock.Now))

	gate.Admit(ctx, "a", 10)
	gate.Admit(ctx, "b", 10)
	assert.Equal(t, 2, store.Len())

	clock.Advance(2 * time.Minute)
	gate.Admit(ctx, "c", 10)
	assert.Equal(t, 1, store.Len())
}

func TestFixedWindow_Concurrent(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	gate := NewFixedWindow(NewMemoryStore(), time.Minute, WithClock(clock.Now))

	const max = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if gate.Admit(ctx, "10.0.0.9", max) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, max, allowed)
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingStore) Purge(context.Context, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingStore) Close() error { return nil }

func TestFixedWindow_FailOpen(t *testing.T) {
	gate := NewFixedWindow(failingStore{}, time.Minute)
	for i := 0; i < 5; i++ {
		assert.True(t, gate.Admit(context.Background(), "10.0.0.1", 1))
	}
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestFixedWindow_RedisStore(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	// Keys carry an absolute expiry, so the window must lie in the future.
	clock := &fakeClock{now: time.Now().Add(time.Hour).Truncate(time.Minute).Add(5 * time.Second)}
	gate := NewFixedWindow(NewRedisStore(client, "test", time.Minute), time.Minute, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		assert.True(t, gate.Admit(ctx, "10.0.0.1", 3))
	}
	assert.False(t, gate.Admit(ctx, "10.0.0.1", 3))

	start := clock.Now().Truncate(time.Minute)
	key := "test:ratelimit:10.0.0.1:" + strconv.FormatInt(start.Unix(), 10)
	require.True(t, mr.Exists(key))
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "4", got)

	clock.Advance(time.Minute)
	assert.True(t, gate.Admit(ctx, "10.0.0.1", 3))
}

func TestFixedWindow_RedisUnavailableFailsOpen(t *testing.T) {
	mr, client := setupTestRedis(t)
	gate := NewFixedWindow(NewRedisStore(client, "test", time.Minute), time.Minute)
	mr.Close()

	assert.True(t, gate.Admit(context.Background(), "10.0.0.1", 1))
	assert.True(t, gate.Admit(context.Background(), "10.0.0.1", 1))
}

func TestDialRedisStore_InvalidURL(t *testing.T) {
	_, err := DialRedisStore(context.Background(), "not-a-valid-url", "x", time.Minute)
	assert.Error(t, err)
}

func TestDialRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := DialRedisStore(context.Background(), "redis://"+mr.Addr(), "x", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
