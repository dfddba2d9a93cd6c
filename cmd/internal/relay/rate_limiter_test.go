package relay

import (
	"testing"
	"time"
)

func TestRateLimiter_DeniesBeyondLimitWithinWindow(t *testing.T) {
	rl := NewRateLimiter(3, 10*time.Second)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if !rl.Allow(now.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("event %d must be allowed", i)
		}
	}
	if rl.Allow(now.Add(3 * time.Second)) {
		t.Fatalf("event beyond limit must be denied")
	}
}

func TestRateLimiter_SlotFreesAfterWindow(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Second)
	now := time.Now().UTC()

	if !rl.Allow(now) || !rl.Allow(now.Add(time.Second)) {
		t.Fatalf("first two events must be allowed")
	}
	if rl.Allow(now.Add(2 * time.Second)) {
		t.Fatalf("third event inside the window must be denied")
	}
	if !rl.Allow(now.Add(10*time.Second + time.Millisecond)) {
		t.Fatalf("event after the oldest slides out must be allowed")
	}
}
