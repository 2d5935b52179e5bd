package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix = "diagnostician:session-lock:"
	lockTTL       = 2 * time.Minute
	lockRetry     = 50 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds our token, so a lock
// that expired and was taken by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker backed by SET NX PX on a shared Redis.
type RedisLocker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker connects to the Redis at url and checks it is reachable.
func NewRedisLocker(ctx context.Context, url string, logger *slog.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisLocker{rdb: rdb, ttl: lockTTL, logger: logger}, nil
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

// Lock blocks until the session lock is held or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	key := lockKeyPrefix + id.String()
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}

	return func() {
		// The turn's context may already be cancelled; release regardless.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release session lock", "session_id", id, "error", err)
		}
	}, nil
}
