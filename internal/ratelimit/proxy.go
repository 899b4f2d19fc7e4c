package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/tollgate-ai/tollgate/internal/config"
)

const (
	keyProxyUser   = "proxy:user:%s"
	keySweepLock   = "ledger:sweep:lock"
	defaultLockTTL = time.Minute
)

// ProxyLimiter bounds per-user request rates on the proxy hot path and
// hands out the sweep lock. A nil limiter (rate limiting disabled) allows
// everything.
type ProxyLimiter struct {
	enabled bool

	bucket *TokenBucket
	lock   *AdvisoryLock

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewProxyLimiter(cfg config.Config) (*ProxyLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ProxyRate <= 0 || limitCfg.ProxyBurst <= 0 {
		return nil, errors.New("proxy rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	lockTTL := limitCfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	return &ProxyLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		lock:    NewAdvisoryLock(client, keySweepLock),
		rate:    limitCfg.ProxyRate,
		burst:   limitCfg.ProxyBurst,
		lockTTL: lockTTL,
	}, nil
}

func (l *ProxyLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowUser consumes one proxy-call token for the user.
func (l *ProxyLimiter) AllowUser(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyProxyUser, strings.TrimSpace(userID)), l.rate, l.burst)
}

// TryLockSweep claims the cross-instance expiry sweep lock.
func (l *ProxyLimiter) TryLockSweep(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.lock.Acquire(ctx, l.lockTTL)
}

func (l *ProxyLimiter) ReleaseSweep(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.lock.Release(ctx, token)
}
