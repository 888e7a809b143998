package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/caresched/appointment-engine/internal/scheduling"
)

// redisLocker serializes booking critical sections across processes
// with one Redis key per doctor or resource. Keys are acquired in
// sorted order so two bookings sharing resources cannot deadlock.
type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a scheduling.Locker backed by per-key SetNX.
func NewRedisLocker(client *redis.Client, ttl time.Duration) scheduling.Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	sorted := make([]string, len(keys))
	for i, key := range keys {
		sorted[i] = "lock:" + key
	}
	sort.Strings(sorted)

	token := uuid.NewString()

	var held []string
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = l.release(ctx, held[i], token)
		}
	}

	for _, key := range sorted {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			release()
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if !ok {
			release()
			return fmt.Errorf("%s held: %w", key, scheduling.ErrLockNotAcquired)
		}
		held = append(held, key)
	}
	defer release()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
