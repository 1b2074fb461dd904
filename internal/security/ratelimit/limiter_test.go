package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(max int, window time.Duration) (*Limiter, *time.Time) {
	l := NewLimiter(max, window)
	now := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowPerWorkspace(t *testing.T) {
	l, now := newTestLimiter(3, time.Minute)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("ws1") {
			t.Fatalf("request %d should pass", i)
		}
	}
	if l.Allow("ws1") {
		t.Fatalf("fourth request should be limited")
	}
	if !l.Allow("ws2") {
		t.Fatalf("workspaces have separate buckets")
	}
	if !l.Allow("") {
		t.Fatalf("requests without a workspace are not limited")
	}

	*now = now.Add(20 * time.Second)
	if !l.Allow("ws1") {
		t.Fatalf("a token should refill after window/max")
	}
}

func TestAllowStrictIsSeparate(t *testing.T) {
	l, now := newTestLimiter(100, time.Minute)
	defer l.Stop()

	for i := 0; i < 2; i++ {
		if !l.AllowStrict("10.0.0.1", 2, 15*time.Minute) {
			t.Fatalf("attempt %d should pass", i)
		}
	}
	if l.AllowStrict("10.0.0.1", 2, 15*time.Minute) {
		t.Fatalf("third login attempt should be limited")
	}
	if !l.Allow("10.0.0.1") {
		t.Fatalf("strict buckets do not consume the default limit")
	}

	*now = now.Add(8 * time.Minute)
	if !l.AllowStrict("10.0.0.1", 2, 15*time.Minute) {
		t.Fatalf("one attempt should refill after 7.5 minutes")
	}
}

func TestZeroLimitDisables(t *testing.T) {
	l, _ := newTestLimiter(0, time.Minute)
	defer l.Stop()
	for i := 0; i < 100; i++ {
		if !l.Allow("ws1") {
			t.Fatalf("zero limit means unlimited")
		}
	}
}
