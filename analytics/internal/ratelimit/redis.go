package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one key per address per window. Keys expire on their own
// so Purge has nothing to do.
type RedisStore struct {
	client *redis.Client
	prefix string
	window time.Duration
	owned  bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership.
func NewRedisStore(client *redis.Client, prefix string, window time.Duration) *RedisStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisStore{client: client, prefix: prefix, window: window}
}

// DialRedisStore connects to redisURL and verifies the connection.
func DialRedisStore(ctx context.Context, redisURL, prefix string, window time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	s := NewRedisStore(client, prefix, window)
	s.owned = true
	return s, nil
}

func (s *RedisStore) key(addr string, windowStart time.Time) string {
	return s.prefix + ":ratelimit:" + addr + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}

// Incr runs INCR and PEXPIREAT in one MULTI/EXEC transaction.
func (s *RedisStore) Incr(ctx context.Context, addr string, windowStart time.Time) (int64, error) {
	key := s.key(addr, windowStart)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpireAt(ctx, key, windowStart.Add(2*s.window))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rate limit increment failed: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	if s.owned && s.client != nil {
		return s.client.Close()
	}
	return nil
}
