// Package quotes fetches live quotes in bounded batches under the
// gateway's rate limit.
package quotes

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"fno-chain/internal/metrics"
	"fno-chain/pkg/utils"
)

// Pacer spaces gateway submissions at least interval apart. One Pacer is
// shared by every fetch in the process.
type Pacer struct {
	limiter *rate.Limiter
	clock   utils.Clock
}

// NewPacer creates a Pacer. A non-positive interval disables pacing.
func NewPacer(interval time.Duration, clock utils.Clock) *Pacer {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1), clock: clock}
}

// Wait blocks until the next submission slot. A done ctx takes no slot;
// if ctx ends while waiting the slot is given back.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := p.clock.Now()
	r := p.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	metrics.RecordPacingWait(delay)
	if err := p.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(p.clock.Now())
		return err
	}
	return nil
}
