package feed

import "time"

// Backoff returns the reconnect delay for a 1-based attempt number:
// min(base * 2^(attempt-1), max). The attempt counter is monotonic for the
// life of the session, so delays climb to the cap and stay there.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
