//go:build integration

package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupRedisLocker(t *testing.T) *RedisLocker {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	l, err := NewRedisLocker(context.Background(), url, discardLogger())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRedisLocker_ExcludesSecondHolder(t *testing.T) {
	l := setupRedisLocker(t)
	id := uuid.New()

	unlock, err := l.Lock(context.Background(), id)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second lock to time out, got %v", err)
	}

	unlock()
	unlock2, err := l.Lock(context.Background(), id)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	unlock2()
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	l := setupRedisLocker(t)
	id := uuid.New()
	key := lockKeyPrefix + id.String()

	unlock, err := l.Lock(context.Background(), id)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Simulate expiry and takeover by another replica.
	if err := l.rdb.Set(context.Background(), key, "other-replica", time.Minute).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	unlock()

	got, err := l.rdb.Get(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "other-replica" {
		t.Errorf("release removed another holder's lock, value %q", got)
	}
	l.rdb.Del(context.Background(), key)
}
