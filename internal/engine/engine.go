// Package engine drives the index update loop without a display: one cycle
// at start, then one per poll interval, until the context is cancelled.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"capindex/internal/index"
)

// Cycler runs one update cycle. *index.Updater implements it.
type Cycler interface {
	Cycle(ctx context.Context) (index.Tick, bool)
}

var _ Cycler = (*index.Updater)(nil)

// Stats counts cycles run by a Runner.
type Stats struct {
	Cycles  int64
	Skipped int64
	Dropped int64
}

// Runner calls a Cycler on a fixed interval. Cycles never overlap: interval
// ticks that fire while a cycle is running are dropped.
type Runner struct {
	cycler   Cycler
	interval time.Duration
	log      *slog.Logger

	// OnTick, if set, is called with each successful tick from the loop
	// goroutine.
	OnTick func(index.Tick)

	cycles  atomic.Int64
	skipped atomic.Int64
	dropped atomic.Int64
}

// NewRunner creates a Runner over c polling every interval.
func NewRunner(c Cycler, interval time.Duration, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cycler:   c,
		interval: interval,
		log:      log.With("component", "runner"),
	}
}

// Run blocks until ctx is cancelled and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("runner started", "interval", r.interval)
	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("runner stopped", "cycles", r.cycles.Load(), "skipped", r.skipped.Load())
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
			// Discard a tick that fired during a slow cycle.
			select {
			case <-ticker.C:
				r.dropped.Add(1)
				r.log.Debug("cycle overran interval, tick dropped")
			default:
			}
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	r.cycles.Add(1)
	t, ok := r.cycler.Cycle(ctx)
	if !ok {
		r.skipped.Add(1)
		return
	}
	if r.OnTick != nil {
		r.OnTick(t)
	}
}

// Stats returns the current counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Cycles:  r.cycles.Load(),
		Skipped: r.skipped.Load(),
		Dropped: r.dropped.Load(),
	}
}
