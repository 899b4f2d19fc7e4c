package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseIfHeld deletes the lock key only when the stored token matches,
// so an expired holder cannot free a lock another instance re-acquired.
var releaseIfHeld = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// AdvisoryLock coordinates a single cross-instance job, like the expiry
// sweep, on one redis key.
type AdvisoryLock struct {
	client *redis.Client
	key    string
}

func NewAdvisoryLock(client *redis.Client, key string) *AdvisoryLock {
	if client == nil || key == "" {
		return nil
	}
	return &AdvisoryLock{client: client, key: key}
}

// Acquire attempts to take the lock for ttl. The returned token identifies
// this holder and must be passed back to Release.
func (l *AdvisoryLock) Acquire(ctx context.Context, ttl time.Duration) (string, bool, error) {
	if l == nil {
		return "", false, errors.New("advisory lock not configured")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *AdvisoryLock) Release(ctx context.Context, token string) error {
	if l == nil || token == "" {
		return nil
	}
	return releaseIfHeld.Run(ctx, l.client, []string{l.key}, token).Err()
}
