package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRedisKeyPrefix = "agora:ratelimit:"

// slidingWindowScript prunes, counts and records in one atomic step. Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisSlidingWindowConfig configures the shared limiter.
type RedisSlidingWindowConfig struct {
	Client    redis.Scripter
	Window    time.Duration
	KeyPrefix string
	Clock     func() time.Time
	Fallback  *SlidingWindow
	Logger    *zap.Logger
}

// RedisSlidingWindow runs the sliding-window algorithm over a Redis sorted set so several
// processes share one window per identity. Redis failures fall back to an in-memory window.
type RedisSlidingWindow struct {
	client    redis.Scripter
	window    time.Duration
	keyPrefix string
	clock     func() time.Time
	fallback  *SlidingWindow
	logger    *zap.Logger
}

// NewRedisSlidingWindow constructs the shared limiter.
func NewRedisSlidingWindow(cfg RedisSlidingWindowConfig) *RedisSlidingWindow {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = NewSlidingWindow(SlidingWindowConfig{Window: window, Clock: clock})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSlidingWindow{
		client:    cfg.Client,
		window:    window,
		keyPrefix: prefix,
		clock:     clock,
		fallback:  fallback,
		logger:    logger,
	}
}

// Admit evaluates the window in Redis, or in memory when Redis is unavailable.
func (r *RedisSlidingWindow) Admit(ctx context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	if r.client == nil {
		return r.fallback.Admit(ctx, key, limit)
	}

	member, err := uuid.NewV7()
	if err != nil {
		return r.fallback.Admit(ctx, key, limit)
	}
	result, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.keyPrefix + key},
		r.clock().UnixMilli(),
		r.window.Milliseconds(),
		limit,
		member.String(),
	).Int()
	if err != nil {
		r.logger.Warn("redis rate limiter unavailable, using in-memory window",
			zap.String("key", key),
			zap.Error(err))
		return r.fallback.Admit(ctx, key, limit)
	}
	return result == 1, nil
}
