package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// RunLock serializes job runs across process instances with a redis lease.
// The TTL bounds how long a crashed holder can block the next run.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLock constructs a lock manager.
func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RunLock{client: client, ttl: ttl}
}

// Acquire takes the named lease. When it returns false another instance holds
// the lock and the caller should skip this run. The release function is safe
// to call regardless.
func (l *RunLock) Acquire(ctx context.Context, key string) (bool, func(), error) {
	if l == nil || l.client == nil {
		// Without redis there is a single instance; nothing to guard.
		return true, func() {}, nil
	}
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil {
		return false, func() {}, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	if !ok {
		return false, func() {}, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.client.Del(releaseCtx, key).Err()
	}
	return true, release, nil
}
