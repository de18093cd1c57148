package channel

import "time"

// ReconnectStrategy decides whether and when a lost session re-dials.
// attempt starts at 1 for the first retry after a loss.
type ReconnectStrategy interface {
	Next(attempt int) (delay time.Duration, ok bool)
}

// NoReconnect never retries.
type NoReconnect struct{}

func (NoReconnect) Next(int) (time.Duration, bool) { return 0, false }

// ExponentialBackoff doubles the delay per attempt, capped at Max.
// MaxAttempts <= 0 retries forever.
type ExponentialBackoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (b ExponentialBackoff) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 || (b.MaxAttempts > 0 && attempt > b.MaxAttempts) {
		return 0, false
	}
	delay := b.Initial
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max, true
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay, true
}
