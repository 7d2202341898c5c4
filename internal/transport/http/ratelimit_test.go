package http

import (
	"testing"
	"time"
)

func TestRateLimiterPerCallerWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(2)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("requests within limit must be allowed")
	}
	if rl.allow("a") {
		t.Fatal("request over limit must be denied")
	}
	// A different caller keeps its own count.
	if !rl.allow("b") {
		t.Fatal("separate caller must have its own budget")
	}

	// Window rolls over; counts reset.
	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Fatal("new window must reset the count")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !rl.allow("a") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}
