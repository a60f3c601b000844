// ABOUTME: Exponential reconnect delay with a ceiling.

package agent

import "time"

// Backoff yields growing delays between connection attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	cur time.Duration
}

// NewBackoff creates a Backoff starting at initial.
func NewBackoff(initial, maxDelay time.Duration, multiplier float64) *Backoff {
	return &Backoff{Initial: initial, Max: maxDelay, Multiplier: multiplier, cur: initial}
}

// Next returns the delay to wait now and advances to the following one.
func (b *Backoff) Next() time.Duration {
	d := b.cur
	next := time.Duration(float64(b.cur) * b.Multiplier)
	if next > b.Max || next <= 0 {
		next = b.Max
	}
	b.cur = next
	return d
}

// Reset goes back to the initial delay.
func (b *Backoff) Reset() {
	b.cur = b.Initial
}
