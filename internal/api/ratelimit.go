package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// loginRateLimiter enforces the spec's "5/min/IP" cap on POST
// /api/auth/login. It prefers a Redis INCR+EXPIRE counter (so the limit
// holds across multiple Aegis-adjacent processes sharing one Redis
// instance) and falls back to an in-process counter when no Redis client
// is configured, grounded on internal/session/redis_store.go's
// connect-or-fall-back shape. cmd/aegis/main.go constructs the Redis
// client from config.RedisConfig and passes it here; redisClient is nil
// whenever redis.addr is unset or the configured instance is
// unreachable at startup.
type loginRateLimiter struct {
	redis *redis.Client

	mu     sync.Mutex
	local  map[string][]time.Time
	limit  int
	window time.Duration
}

// NewLoginRateLimiter builds a rate limiter. redisClient may be nil, in
// which case the limiter runs purely in-process.
func NewLoginRateLimiter(redisClient *redis.Client) *loginRateLimiter {
	return &loginRateLimiter{
		redis:  redisClient,
		local:  make(map[string][]time.Time),
		limit:  5,
		window: time.Minute,
	}
}

// Allow reports whether ip may attempt another login, recording the
// attempt if so.
func (l *loginRateLimiter) Allow(ctx context.Context, ip string) bool {
	if l.redis != nil {
		return l.allowRedis(ctx, ip)
	}
	return l.allowLocal(ip)
}

func (l *loginRateLimiter) allowRedis(ctx context.Context, ip string) bool {
	key := fmt.Sprintf("aegis:login-attempts:%s", ip)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		// Redis unavailable mid-run: fail open to the local limiter rather
		// than blocking every login attempt on a Redis hiccup.
		return l.allowLocal(ip)
	}
	if count == 1 {
		l.redis.Expire(ctx, key, l.window)
	}
	return count <= int64(l.limit)
}

func (l *loginRateLimiter) allowLocal(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	attempts := l.local[ip]
	kept := attempts[:0]
	for _, t := range attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.local[ip] = kept
		return false
	}

	kept = append(kept, now)
	l.local[ip] = kept
	return true
}
