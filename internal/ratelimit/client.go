package ratelimit

import (
	"sync"
	"time"

	"github.com/juju/ratelimit"
)

// ClientLimiterConfig configures a route-level limiter keyed by client address.
type ClientLimiterConfig struct {
	// Requests is the number of requests each client may issue per Interval.
	Requests int64
	Interval time.Duration
	// Clock is injected into every bucket; nil uses the real clock.
	Clock ratelimit.Clock
}

// ClientLimiter keeps one token bucket per client address. Each bucket refills to
// capacity once per interval, which gives a fixed-window style limit.
type ClientLimiter struct {
	requests int64
	interval time.Duration
	clock    ratelimit.Clock

	mu      sync.Mutex
	buckets map[string]*clientBucket
	takes   uint64
}

type clientBucket struct {
	bucket   *ratelimit.Bucket
	lastSeen time.Time
}

// NewClientLimiter constructs a ClientLimiter. Non-positive intervals default to one minute.
func NewClientLimiter(cfg ClientLimiterConfig) *ClientLimiter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &ClientLimiter{
		requests: cfg.Requests,
		interval: interval,
		clock:    cfg.Clock,
		buckets:  make(map[string]*clientBucket),
	}
}

// PerMinute is shorthand for a limiter admitting requests per minute per client.
func PerMinute(requests int64) *ClientLimiter {
	return NewClientLimiter(ClientLimiterConfig{Requests: requests, Interval: time.Minute})
}

// Limit reports the configured requests per interval.
func (l *ClientLimiter) Limit() int64 {
	return l.requests
}

// Interval reports the refill interval.
func (l *ClientLimiter) Interval() time.Duration {
	return l.interval
}

// Allow takes one token from the client's bucket.
func (l *ClientLimiter) Allow(client string) bool {
	if l.requests <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.buckets[client]
	if !ok {
		entry = &clientBucket{bucket: l.newBucket()}
		l.buckets[client] = entry
	}
	entry.lastSeen = now

	l.takes++
	if l.takes%defaultSweepEvery == 0 {
		l.sweepLocked(now)
	}
	return entry.bucket.TakeAvailable(1) == 1
}

func (l *ClientLimiter) newBucket() *ratelimit.Bucket {
	if l.clock != nil {
		return ratelimit.NewBucketWithQuantumAndClock(l.interval, l.requests, l.requests, l.clock)
	}
	return ratelimit.NewBucketWithQuantum(l.interval, l.requests, l.requests)
}

// Idle buckets are full again after one interval, so dropping them is unobservable.
func (l *ClientLimiter) sweepLocked(now time.Time) {
	for client, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > l.interval {
			delete(l.buckets, client)
		}
	}
}

func (l *ClientLimiter) now() time.Time {
	if l.clock != nil {
		return l.clock.Now()
	}
	return time.Now()
}
