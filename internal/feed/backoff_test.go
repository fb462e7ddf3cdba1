package feed_test

import (
	"testing"
	"time"

	"futures_go/internal/feed"
)

func TestBackoff(t *testing.T) {
	base := 1 * time.Second
	max := 300 * time.Second

	expected := []time.Duration{
		1 * time.Second,   // attempt 1
		2 * time.Second,   // attempt 2
		4 * time.Second,   // attempt 3
		8 * time.Second,   // attempt 4
		16 * time.Second,  // attempt 5
		32 * time.Second,  // attempt 6
		64 * time.Second,  // attempt 7
		128 * time.Second, // attempt 8
		256 * time.Second, // attempt 9
		300 * time.Second, // attempt 10, clamped
		300 * time.Second, // attempt 11, stays at cap
	}

	for i, want := range expected {
		attempt := i + 1
		if got := feed.Backoff(attempt, base, max); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoff_AttemptFloor(t *testing.T) {
	if got := feed.Backoff(0, time.Second, time.Minute); got != time.Second {
		t.Errorf("attempt 0: got %v, want 1s", got)
	}
	if got := feed.Backoff(-3, time.Second, time.Minute); got != time.Second {
		t.Errorf("negative attempt: got %v, want 1s", got)
	}
}

func TestBackoff_BaseAboveMax(t *testing.T) {
	if got := feed.Backoff(1, time.Minute, time.Second); got != time.Second {
		t.Errorf("got %v, want clamp to 1s", got)
	}
}
