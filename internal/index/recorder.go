package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Recorder receives every tick after it has been applied to the state.
type Recorder interface {
	Record(ctx context.Context, t Tick) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, t Tick) error

// Record calls f(ctx, t).
func (f RecorderFunc) Record(ctx context.Context, t Tick) error { return f(ctx, t) }

// Named lets a recorder label itself in logs.
type Named interface {
	Name() string
}

// Recorders fans a tick out to several recorders in order. A failing
// recorder is logged and does not stop the others.
type Recorders struct {
	recs []Recorder
	log  *slog.Logger
}

var _ Recorder = (*Recorders)(nil)

// NewRecorders creates a fan-out over recs. Nil entries are skipped.
func NewRecorders(log *slog.Logger, recs ...Recorder) *Recorders {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorders{log: log.With("component", "recorders")}
	for _, rec := range recs {
		r.Add(rec)
	}
	return r
}

// Add appends rec.
func (r *Recorders) Add(rec Recorder) {
	if rec != nil {
		r.recs = append(r.recs, rec)
	}
}

// Len returns the number of recorders.
func (r *Recorders) Len() int { return len(r.recs) }

// Record forwards t to every recorder and returns the joined failures.
func (r *Recorders) Record(ctx context.Context, t Tick) error {
	var errs []error
	for i, rec := range r.recs {
		if err := rec.Record(ctx, t); err != nil {
			name := recorderName(rec, i)
			r.log.Error("recorder failed", "recorder", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every recorder that implements io.Closer, in reverse order.
func (r *Recorders) Close() error {
	var errs []error
	for i := len(r.recs) - 1; i >= 0; i-- {
		if c, ok := r.recs[i].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", recorderName(r.recs[i], i), err))
			}
		}
	}
	return errors.Join(errs...)
}

func recorderName(rec Recorder, i int) string {
	if n, ok := rec.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("recorder-%d", i)
}
