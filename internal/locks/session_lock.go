// Package locks serializes mutations of one audit session across API
// replicas. Locks are best effort: the version check in storage stays the
// correctness backstop when a lock cannot be taken.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ReleaseFunc func()

type SessionLocker interface {
	Lock(ctx context.Context, tenantID, sessionID string) ReleaseFunc
}

type RedisSessionLocker struct {
	client *redislock.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisSessionLocker(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisSessionLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisSessionLocker{client: redislock.New(rdb), ttl: ttl, log: log}
}

func lockKey(tenantID, sessionID string) string {
	return fmt.Sprintf("lock:audit_session:%s:%s", tenantID, sessionID)
}

// Lock waits up to half the TTL for the lock. On failure it logs and returns a
// no-op release so the caller proceeds under optimistic concurrency alone.
func (l *RedisSessionLocker) Lock(ctx context.Context, tenantID, sessionID string) ReleaseFunc {
	key := lockKey(tenantID, sessionID)
	waitCtx, cancel := context.WithTimeout(ctx, l.ttl/2)
	defer cancel()

	lock, err := l.client.Obtain(waitCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 50),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		l.log.Warn("could not obtain session lock; proceeding without it", zap.String("key", key))
		return func() {}
	}
	if err != nil {
		l.log.Warn("error obtaining session lock; proceeding without it", zap.String("key", key), zap.Error(err))
		return func() {}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.Warn("release session lock", zap.String("key", key), zap.Error(err))
		}
	}
}

// NoopLocker is used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string, string) ReleaseFunc { return func() {} }
