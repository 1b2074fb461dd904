package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key (workspace, or client IP for strict limits)
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	maxReqs int
	window  time.Duration
	now     func() time.Time
	cleanup *time.Ticker
	done    chan struct{}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows maxRequests per window for each key, with bursts up to maxRequests
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	limiter := &Limiter{
		buckets: make(map[string]*bucket),
		maxReqs: maxRequests,
		window:  window,
		now:     time.Now,
		cleanup: time.NewTicker(5 * time.Minute),
		done:    make(chan struct{}),
	}
	go limiter.cleanupOldBuckets()
	return limiter
}

func every(maxReqs int, window time.Duration) rate.Limit {
	if maxReqs <= 0 {
		return rate.Inf
	}
	return rate.Every(window / time.Duration(maxReqs))
}

func (l *Limiter) allow(key string, maxReqs int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(every(maxReqs, window), maxReqs)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Allow applies the default limit to a workspace. Requests without a workspace are not limited here.
func (l *Limiter) Allow(workspaceID string) bool {
	if workspaceID == "" || l.maxReqs <= 0 {
		return true
	}
	return l.allow("ws:"+workspaceID, l.maxReqs, l.window)
}

// AllowStrict applies a separate, tighter limit for sensitive endpoints such as login
func (l *Limiter) AllowStrict(identifier string, maxReqs int, window time.Duration) bool {
	if maxReqs <= 0 {
		return true
	}
	return l.allow("strict:"+identifier, maxReqs, window)
}

func (l *Limiter) cleanupOldBuckets() {
	for {
		select {
		case <-l.done:
			return
		case <-l.cleanup.C:
			l.mu.Lock()
			staleThreshold := l.now().Add(-15 * time.Minute)
			for key, b := range l.buckets {
				if b.lastSeen.Before(staleThreshold) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *Limiter) Stop() {
	l.cleanup.Stop()
	close(l.done)
}
