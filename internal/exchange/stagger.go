package exchange

import (
	"context"
	"time"

	"tradecore/logger"
)

// Stagger calls fn(i) for i in [0, n) at start+delay*i. It blocks until the
// last call returns or ctx is done.
func Stagger(ctx context.Context, n int, delay time.Duration, fn func(i int)) error {
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := sleepUntil(ctx, start.Add(delay*time.Duration(i))); err != nil {
			return err
		}
		fn(i)
	}
	return nil
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poller runs a function every Interval, phased from the moment Run starts.
// Pollers started at staggered instants keep their offsets.
type Poller struct {
	Name     string
	Interval time.Duration
	Log      *logger.Log
}

// Run calls fn on every tick until ctx is done. Errors from fn are logged and
// do not stop the loop. Ticks missed while fn runs are dropped.
func (p Poller) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	base := p.Log
	if base == nil {
		base = logger.GetLogger()
	}
	log := base.WithComponent(p.Name).WithFields(logger.Fields{"worker": "poller"})
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("poller stopped due to context cancellation")
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("poll failed")
			}
			if duration := time.Since(start); duration > interval {
				log.WithFields(logger.Fields{
					"duration": duration.Milliseconds(),
					"interval": interval.Milliseconds(),
				}).Warn("poll took longer than interval")
			}
		}
	}
}
