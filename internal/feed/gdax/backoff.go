package gdax

import (
	"math/rand"
	"time"
)

// Backoff defines reconnect wait behavior. Unset or nonsense fields
// fall back to usable values.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait before reconnect attempt n (1-based). The wait
// grows geometrically from Min, caps at Max, and spreads by at most
// ±Jitter as a fraction of the capped wait.
func (b Backoff) Next(attempt int) time.Duration {
	b = b.normalized()

	wait := float64(b.Min)
	ceiling := float64(b.Max)
	for n := attempt; n > 1 && wait < ceiling; n-- {
		wait *= b.Factor
	}
	if wait > ceiling {
		wait = ceiling
	}
	if b.Jitter > 0 {
		wait *= 1 - b.Jitter + 2*b.Jitter*rand.Float64()
	}
	return time.Duration(wait)
}

func (b Backoff) normalized() Backoff {
	if b.Min <= 0 {
		b.Min = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 5 * time.Second
	}
	if b.Factor <= 1 {
		b.Factor = 2.0
	}
	if b.Jitter > 1 {
		b.Jitter = 1
	}
	return b
}
