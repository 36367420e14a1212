package dispatch

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential growth capped at Max, with the
// upper half of each delay randomized so retrying workers don't thunder in
// lockstep.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the sleep before the given retry. attempt is 1-based: the
// delay after the first failed attempt is Delay(1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if d > b.Max {
		d = b.Max
	}

	// Half fixed, half jitter.
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
