// Package ratelimit implements the per-client fixed window request limiter.
//
// DESIGN: Each client key owns a bucket {count, windowEnd}.
//   - no bucket, or windowEnd <= now: reset to {1, now+window}, allow
//   - count >= max:                    reject
//   - otherwise:                       count++, allow
//
// This is a fixed window, not a sliding one: a client may burst up to 2*max
// across a window boundary. State is process local and lost on restart.
package ratelimit

import (
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/compresr/pitch-gateway/internal/config"
)

// Result describes a single Allow decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before retrying.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// Limiter is a mutex-guarded table of fixed window buckets.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	window     time.Duration
	max        int
	maxBuckets int
	now        func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMaxBuckets caps how many distinct clients are tracked at once.
func WithMaxBuckets(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxBuckets = n
		}
	}
}

// New creates a limiter allowing max requests per window per key.
// cleanupInterval <= 0 disables the background reaper.
func New(window time.Duration, max int, cleanupInterval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:    make(map[string]*bucket),
		window:     window,
		max:        max,
		maxBuckets: config.MaxRateLimitBuckets,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop(cleanupInterval)
	}
	return l
}

// Allow records a request for key and reports whether it may proceed.
func (l *Limiter) Allow(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || !b.windowEnd.After(now) {
		if !ok && len(l.buckets) >= l.maxBuckets {
			l.makeRoomLocked(now)
		}
		b = &bucket{count: 1, windowEnd: now.Add(l.window)}
		l.buckets[key] = b
		return Result{Allowed: true, Remaining: l.max - 1, ResetAt: b.windowEnd}
	}

	if b.count >= l.max {
		return Result{Allowed: false, Remaining: 0, ResetAt: b.windowEnd}
	}
	b.count++
	return Result{Allowed: true, Remaining: l.max - b.count, ResetAt: b.windowEnd}
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// makeRoomLocked drops expired buckets, then the ones closest to expiry
// until a spare margin is free. The margin means a table under key churn
// pays for one scan per spareRoom inserts rather than one per insert.
func (l *Limiter) makeRoomLocked(now time.Time) {
	l.sweepLocked(now)
	target := l.maxBuckets - l.spareRoom()
	if len(l.buckets) <= target {
		return
	}

	type entry struct {
		key string
		end time.Time
	}
	entries := make([]entry, 0, len(l.buckets))
	for k, b := range l.buckets {
		entries = append(entries, entry{k, b.windowEnd})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].end.Before(entries[j].end) })
	for _, e := range entries[:len(l.buckets)-target] {
		delete(l.buckets, e.key)
	}
}

func (l *Limiter) spareRoom() int {
	if n := l.maxBuckets / 16; n > 1 {
		return n
	}
	return 1
}

func (l *Limiter) sweepLocked(now time.Time) {
	for k, b := range l.buckets {
		if !b.windowEnd.After(now) {
			delete(l.buckets, k)
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(l.now())
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// ClientKey derives the rate limit key for a request: the first
// X-Forwarded-For hop when trusted, otherwise the transport peer address.
func ClientKey(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
