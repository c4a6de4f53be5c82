package keeper

import "time"

// backoff spaces out payout retries. The delay doubles after each failed
// attempt up to max and resets on success. A zero initial delay disables it.
type backoff struct {
	initial  time.Duration
	max      time.Duration
	attempts int
	next     time.Time
}

func newBackoff(initial, max time.Duration) backoff {
	if max < initial {
		max = initial
	}
	return backoff{initial: initial, max: max}
}

func (b *backoff) ready(now time.Time) bool {
	return b.initial <= 0 || !now.Before(b.next)
}

// failed records a failed attempt and returns the delay until the next one.
func (b *backoff) failed(now time.Time) time.Duration {
	b.attempts++
	d := b.delay(b.attempts)
	b.next = now.Add(d)
	return d
}

func (b *backoff) reset() {
	b.attempts = 0
	b.next = time.Time{}
}

func (b *backoff) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return b.initial
	}
	d := float64(b.initial)
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > float64(b.max) {
			return b.max
		}
	}
	return time.Duration(d)
}
