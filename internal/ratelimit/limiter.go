// Package ratelimit provides a per-key sliding-window limiter for the
// submission endpoint: Redis-backed when configured, with an in-process
// fallback so a Redis outage never blocks lead capture.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	rdb      *redis.Client
	capacity int
	window   time.Duration
	local    *localLimiter
}

// New creates a limiter allowing capacity requests per window per key.
// rdb may be nil; the limiter then runs purely in-process.
func New(rdb *redis.Client, capacity int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:      rdb,
		capacity: capacity,
		window:   window,
		local:    newLocalLimiter(capacity, window),
	}
}

// Sorted-set sliding window, atomic across instances. Both the window
// ZSET and its uniqueness counter expire, so idle clients leave no keys
// behind.
const slidingWindowSrc = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)
if count < capacity then
	redis.call('ZADD', key, now, now .. ':' .. redis.call('INCR', key .. ':seq'))
	redis.call('PEXPIRE', key, window_ms + 1000)
	redis.call('PEXPIRE', key .. ':seq', window_ms + 1000)
	return 1
end
return 0
`

var slidingWindowScript = redis.NewScript(slidingWindowSrc)

// Allow reports whether another request for key fits in the window.
// Redis errors degrade to the local limiter rather than failing the
// request.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l.capacity <= 0 {
		return true
	}
	if l.rdb == nil {
		return l.local.allow(key)
	}
	now := time.Now()
	res, err := slidingWindowScript.Run(ctx, l.rdb, []string{"leadgate:rl:" + key},
		now.UnixMilli(), now.Add(-l.window).UnixMilli(), l.capacity, l.window.Milliseconds()).Int()
	if err != nil {
		return l.local.allow(key)
	}
	return res == 1
}

// localLimiter keeps per-key timestamps in memory.
type localLimiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	hits     map[string][]time.Time
}

func newLocalLimiter(capacity int, window time.Duration) *localLimiter {
	l := &localLimiter{capacity: capacity, window: window, hits: make(map[string][]time.Time)}
	go l.cleanupLoop()
	return l
}

// One-shot clients never call allow again, so their entries are swept
// periodically rather than on reuse.
func (l *localLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for range ticker.C {
		l.sweep(time.Now())
	}
}

// sweep drops keys whose newest hit has left the window.
func (l *localLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-l.window)
	for k, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, k)
		}
	}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-l.window)

	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.capacity {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}
