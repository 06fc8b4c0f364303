package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out a sequence of emissions. Synthesized streams use it so a
// response parsed in one piece still reaches the client as a stream rather
// than a single burst.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows one emission per interval with the given burst headroom.
// A non-positive interval returns a pacer that never waits.
func NewPacer(interval time.Duration, burst int) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Wait blocks until the next emission slot or ctx cancellation.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Allow reports whether an emission may proceed immediately.
func (p *Pacer) Allow() bool {
	return p.limiter.Allow()
}
