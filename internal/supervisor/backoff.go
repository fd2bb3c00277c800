package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: exponential growth capped at Max, with
// a bounded random jitter on top to avoid synchronized retries.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64 // fraction of the base delay, e.g. 0.25 adds up to +25%
}

// DefaultBackoff matches the reconnect profile used for Lark long
// connections: 2s, 3.6s, 6.5s, ... capped at 30s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 2 * time.Second,
		Max:     30 * time.Second,
		Factor:  1.8,
		Jitter:  0.25,
	}
}

// Delay returns the delay before reconnect attempt n (1-based). The base is
// monotonically non-decreasing in n up to Max; jitter multiplies the base by
// (1 + U(0, Jitter)).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	if base > float64(b.Max) || base <= 0 {
		base = float64(b.Max)
	}

	if b.Jitter > 0 {
		base *= 1 + rand.Float64()*b.Jitter
	}

	d := time.Duration(base)
	// Jitter may push past the cap; the cap bounds the base, not the total,
	// so a jittered delay slightly above Max is expected.
	return d
}
