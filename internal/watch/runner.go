// Package watch drives a scheduler without a terminal UI.
package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/nateberkopec/sunsetalert/internal/geo"
	"github.com/nateberkopec/sunsetalert/internal/scheduler"
)

// poller is the scheduler operation the runner drives.
type poller interface {
	Poll(ctx context.Context, now time.Time, loc geo.Location) scheduler.Outcome
}

// Runner polls a scheduler on a fixed interval for a single location.
type Runner struct {
	Scheduler poller
	Location  geo.Location
	Interval  time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
	// OnOutcome, when set, is called after every poll.
	OnOutcome func(scheduler.Outcome)
}

// Run polls immediately and then on every tick until ctx is cancelled. Polls
// never overlap because they run on this goroutine.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("watching for sunset", "location", r.Location.String(), "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.pollOnce(ctx, now(), logger)
		select {
		case <-ctx.Done():
			logger.Info("stopped watching")
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context, now time.Time, logger *slog.Logger) {
	out := r.Scheduler.Poll(ctx, now, r.Location)
	attrs := []any{"outcome", out.Kind.String()}
	if !out.Sunset.IsZero() {
		attrs = append(attrs, "sunset", out.Sunset, "in", out.Sunset.Sub(now).Round(time.Second))
	}
	switch {
	case out.Err != nil:
		logger.Warn("poll", append(attrs, "error", out.Err)...)
	case out.Kind == scheduler.Armed:
		logger.Debug("poll", attrs...)
	default:
		logger.Info("poll", attrs...)
	}
	if r.OnOutcome != nil {
		r.OnOutcome(out)
	}
}
