package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions carries deployment-tuned timeouts. Redis backs the
// audit queue and the day-marker cache, both best-effort, so the
// defaults stay short rather than waiting out a sick instance.
type RedisOptions struct {
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 2 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = time.Second
	}
	return o
}

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with the configured timeouts.
func NewRedis(addr string, opts RedisOptions) *Redis {
	opts = opts.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
