package queue

import "time"

// RetryPolicy computes the delay before a failed job becomes eligible again.
// attempt is 1-based: the delay after the first failed attempt is
// NextDelay(1).
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles the base delay per attempt up to a cap. The
// base and cap are policy, not contract; the zero value falls back to a 30s
// base and a one hour cap.
type ExponentialBackoff struct {
	Base time.Duration
	Cap  time.Duration
}

func (p ExponentialBackoff) NextDelay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	cap := p.Cap
	if cap <= 0 {
		cap = time.Hour
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
