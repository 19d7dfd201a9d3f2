package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"capindex/internal/marketdata"
)

// UpdaterOptions tune an Updater. Zero values take the defaults noted.
type UpdaterOptions struct {
	// IntradayWindow is the trailing window for 1-minute bars (2m).
	IntradayWindow time.Duration
	// WarnFrames is the number of leading cycles that may log the daily
	// fallback warning (2).
	WarnFrames int
	// Recorder receives each tick. Optional.
	Recorder Recorder
	Log      *slog.Logger
	Now      func() time.Time
}

// Updater owns the index state after initialization and advances it one
// cycle at a time. Cycle must not be called concurrently.
type Updater struct {
	state    State
	bars     marketdata.BarSource
	window   time.Duration
	warnN    int
	recorder Recorder
	log      *slog.Logger
	now      func() time.Time
	frame    int
}

// NewUpdater creates an Updater over a copy of state.
func NewUpdater(state *State, bars marketdata.BarSource, opts UpdaterOptions) *Updater {
	if opts.IntradayWindow <= 0 {
		opts.IntradayWindow = 2 * time.Minute
	}
	if opts.WarnFrames <= 0 {
		opts.WarnFrames = 2
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Recorder != nil {
		if _, ok := opts.Recorder.(*Recorders); !ok {
			opts.Recorder = NewRecorders(opts.Log, opts.Recorder)
		}
	}
	return &Updater{
		state:    state.Clone(),
		bars:     bars,
		window:   opts.IntradayWindow,
		warnN:    opts.WarnFrames,
		recorder: opts.Recorder,
		log:      opts.Log.With("component", "updater"),
		now:      opts.Now,
	}
}

// State returns a copy of the current state.
func (u *Updater) State() State { return u.state.Clone() }

// Frame returns the number of cycles started so far.
func (u *Updater) Frame() int { return u.frame }

// Cycle runs one fetch and step. It reports false when the cycle was skipped:
// both fetches came back empty, or the cycle failed or panicked. A skipped
// cycle leaves the state untouched.
func (u *Updater) Cycle(ctx context.Context) (tick Tick, ok bool) {
	frame := u.frame
	u.frame++

	defer func() {
		if r := recover(); r != nil {
			u.log.Error("update cycle panicked", "frame", frame, "panic", fmt.Sprint(r))
			tick, ok = Tick{}, false
		}
	}()

	r := FetchLatest(ctx, u.bars, u.state.Symbols(), u.window)
	switch r.Kind {
	case Daily:
		if frame < u.warnN {
			u.log.Warn("live 1-min data not available (market may be closed), using last daily price",
				"reason", r.IntradayErr)
		}
	case Unavailable:
		if ctx.Err() != nil {
			return Tick{}, false
		}
		u.log.Warn("no prices available, skipping update",
			"frame", frame, "intraday", r.IntradayErr, "daily", r.Err)
		return Tick{}, false
	}

	next, t := Step(u.state, r, u.now())
	u.state = next

	u.log.Debug("index updated", "frame", frame, "value", t.Value, "source", t.Source, "quotes", len(t.Quotes))

	u.record(ctx, t)
	return t, true
}

// record hands t to the recorder. The state has already advanced, so a
// recorder panic is contained here rather than failing the cycle.
func (u *Updater) record(ctx context.Context, t Tick) {
	if u.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			u.log.Error("recorder panicked", "panic", fmt.Sprint(r))
		}
	}()
	// Failures are logged by the fan-out.
	_ = u.recorder.Record(ctx, t)
}
