package notify

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes retry delays: base doubling per attempt, capped, with
// ±20% jitter so synchronized failures don't retry in lockstep.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the given attempt number (1-based: the delay
// scheduled after attempt n failed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if capped := float64(b.Cap); base > capped {
		base = capped
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	d := time.Duration(base * jitter)
	if d > b.Cap {
		d = b.Cap
	}
	if d < 0 {
		d = 0
	}
	return d
}
