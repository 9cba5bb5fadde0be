// Package ratelimit is the fixed-window request limiter (component N)
// guarding the token, authorize and login endpoints against credential
// stuffing and code-guessing. Two backends are provided: a Redis
// counter (github.com/redis/go-redis/v9, matching the example corpus's
// existing Redis usage) for multi-instance deployments, and a
// storage.Gateway-backed counter (via its Incr primitive) for
// single-instance/dev deployments that would otherwise need no Redis
// at all.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumenid/issuer/storage"
)

// Limiter decides whether a request identified by key should proceed.
type Limiter interface {
	// Allow increments key's counter in the current fixed window and
	// reports whether the result is still within limit.
	Allow(ctx context.Context, key string) (bool, error)
}

// Window fixes the limiter's bucket size and the per-window budget.
type Window struct {
	Size  time.Duration
	Limit int64
}

// RedisLimiter is a fixed-window limiter backed by Redis INCR + EXPIRE,
// suitable for a horizontally scaled deployment where every instance
// must observe the same counters.
type RedisLimiter struct {
	client *redis.Client
	window Window
	now    func() time.Time
}

// NewRedis returns a Limiter backed by client.
func NewRedis(client *redis.Client, window Window, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, window: window, now: now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.bucketKey(key)
	n, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, bucket, l.window.Size).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
	}
	return n <= l.window.Limit, nil
}

func (l *RedisLimiter) bucketKey(key string) string {
	windowIndex := l.now().Unix() / int64(l.window.Size.Seconds())
	return fmt.Sprintf("ratelimit:%s:%d", key, windowIndex)
}

// GatewayLimiter is a fixed-window limiter backed by storage.Gateway's
// Incr, for deployments running without Redis.
type GatewayLimiter struct {
	gw     storage.Gateway
	window Window
	now    func() time.Time
}

// NewGateway returns a Limiter backed by gw.
func NewGateway(gw storage.Gateway, window Window, now func() time.Time) *GatewayLimiter {
	if now == nil {
		now = time.Now
	}
	return &GatewayLimiter{gw: gw, window: window, now: now}
}

func (l *GatewayLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowIndex := l.now().Unix() / int64(l.window.Size.Seconds())
	bucket := fmt.Sprintf("%d", windowIndex)
	n, err := l.gw.Incr(ctx, storage.TableRateLimitCounters, key, bucket, 1)
	if err != nil {
		return false, err
	}
	return n <= l.window.Limit, nil
}
