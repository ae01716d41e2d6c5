package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a sliding window rate limiter over Redis sorted sets. Each event
// is a set member scored by its nanosecond timestamp; the window is enforced
// by trimming members older than the window before counting.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// Decision reports the outcome of a limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow records one event under key and decides whether it fits the window.
// Rejected events still count, so a hammering client keeps its window full.
// A nil client or non-positive limit disables limiting.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	if l.Client == nil || max <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: max, ResetAt: time.Now().Add(window)}, nil
	}

	now := time.Now()
	resetAt := now.Add(window)
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	redisKey := l.Prefix + key

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{ResetAt: resetAt}, err
	}

	current := int(countCmd.Val())
	remaining := max - current
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   current <= max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
