package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
)

// Sliding is a sliding window limiter backed by Redis sorted sets. Every
// attempt inside the window counts, which suits expensive calls such as
// receipt scans where bursts at a bucket boundary must not double the quota.
type Sliding struct {
	Client redis.Cmdable
	Prefix string
	Window time.Duration
	Max    int
}

// NewSliding builds a sliding limiter from a rate such as "30-H".
func NewSliding(client redis.Cmdable, prefix, formatted string) (Sliding, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return Sliding{}, fmt.Errorf("ratelimit: rate %q: %w", formatted, err)
	}
	return Sliding{Client: client, Prefix: prefix, Window: rate.Period, Max: int(rate.Limit)}, nil
}

// Allow registers an event for the given key and reports whether it is within the limit.
func (l Sliding) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	d := Decision{Allowed: true, Limit: l.Max, Remaining: l.Max, Reset: now.Add(l.Window)}
	if l.Client == nil || l.Max <= 0 || l.Window <= 0 {
		return d, nil
	}

	score := float64(now.UnixNano())
	cutoff := float64(now.Add(-l.Window).UnixNano())
	redisKey := l.Prefix + key
	member := fmt.Sprintf("%s:%s", key, uuid.NewString())

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: score, Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	current := int(countCmd.Val())
	d.Remaining = max(l.Max-current, 0)
	d.Allowed = current <= l.Max
	return d, nil
}
