// internal/link/backoff.go
package link

import "time"

const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
)

// Backoff is a bounded exponential ladder.
// Delays never decrease between resets and never exceed Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	attempt int
}

// NewBackoff returns a ladder with defaults applied to zero bounds.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max}
}

// Next records one failure and returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return b.delay(b.attempt)
}

// Reset returns the ladder to the floor.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempt is the number of consecutive failures since the last reset.
func (b *Backoff) Attempt() int { return b.attempt }

func (b *Backoff) delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
