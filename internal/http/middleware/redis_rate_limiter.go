package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisSlidingWindowLimiter counts hits in a per-key sorted set scored by
// unix nanos. Denied requests still record a hit, so a client hammering the
// endpoint does not slide under the limit by being rejected.
type redisSlidingWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSlidingWindowLimiter(client redis.UniversalClient, prefix string) Limiter {
	if prefix == "" {
		prefix = "rate_limit"
	}
	return &redisSlidingWindowLimiter{
		client: client,
		prefix: prefix,
	}
}

func (l *redisSlidingWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	windowStart := now.Add(-policy.SustainedWindow)
	zkey := fmt.Sprintf("%s:%s", l.prefix, key)
	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString())

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, zkey)
	oldestCmd := pipe.ZRangeWithScores(ctx, zkey, 0, 0)
	pipe.Expire(ctx, zkey, policy.SustainedWindow+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := countCmd.Val()
	remaining := policy.SustainedLimit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(policy.SustainedWindow)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.Unix(0, int64(oldest[0].Score)).Add(policy.SustainedWindow)
	}

	if int(count) > policy.SustainedLimit {
		retryAfter := time.Until(resetAt)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter,
			Remaining:  0,
			ResetAt:    resetAt,
			Reason:     "window",
		}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
