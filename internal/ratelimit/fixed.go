package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Fixed is a fixed window limiter on top of ulule/limiter.
type Fixed struct {
	l *limiter.Limiter
}

// NewFixed parses a rate such as "10-M" (ten per minute) for the given store.
func NewFixed(store limiter.Store, formatted string) (*Fixed, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: rate %q: %w", formatted, err)
	}
	return &Fixed{l: limiter.New(store, rate)}, nil
}

// NewRedisStore keeps fixed window counters in Redis under prefix.
func NewRedisStore(client *redis.Client, prefix string) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix, MaxRetry: 3})
}

func (f *Fixed) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := f.l.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		Reset:     time.Unix(res.Reset, 0),
	}, nil
}
