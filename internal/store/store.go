// Package store persists index runs and their ticks, to SQLite for querying
// and to Parquet for archival.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"capindex/internal/index"
)

// Run describes one process lifetime of the index: the base it was
// initialized with and the basket that survived initialization.
type Run struct {
	ID        string
	IndexName string
	BaseValue float64
	BaseCap   float64
	Tickers   []string
	StartedAt time.Time
}

// NewRun creates a Run with a fresh ID for an initialized state.
func NewRun(s *index.State, startedAt time.Time) Run {
	return Run{
		ID:        uuid.NewString(),
		IndexName: s.Name,
		BaseValue: s.BaseValue,
		BaseCap:   s.BaseCap,
		Tickers:   s.Symbols(),
		StartedAt: startedAt.UTC(),
	}
}

// TickRecord is one index value as stored.
type TickRecord struct {
	RunID    string
	Time     time.Time
	Value    float64
	TotalCap float64
	Source   string
}

// QuoteRecord is one constituent annotation as stored.
type QuoteRecord struct {
	RunID      string
	Time       time.Time
	Symbol     string
	Price      float64
	PrevClose  float64
	DailyPct   float64
	Weight     float64
	DailyTrend string
	TickTrend  string
}

// FromTick flattens a tick into one tick record and its quote records.
func FromTick(runID string, t index.Tick) (TickRecord, []QuoteRecord) {
	ts := t.Time.UTC()
	tr := TickRecord{
		RunID:    runID,
		Time:     ts,
		Value:    t.Value,
		TotalCap: t.TotalCap,
		Source:   t.Source.String(),
	}
	qs := make([]QuoteRecord, len(t.Quotes))
	for i, q := range t.Quotes {
		qs[i] = QuoteRecord{
			RunID:      runID,
			Time:       ts,
			Symbol:     q.Symbol,
			Price:      q.Price,
			PrevClose:  q.PrevClose,
			DailyPct:   q.DailyPct,
			Weight:     q.Weight,
			DailyTrend: q.DailyTrend.String(),
			TickTrend:  q.TickTrend.String(),
		}
	}
	return tr, qs
}

// RunStore persists and retrieves run metadata.
type RunStore interface {
	// SaveRun inserts or replaces a run.
	SaveRun(ctx context.Context, run Run) error

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]Run, error)
}

// TickStore persists and retrieves ticks for a run.
type TickStore interface {
	// WriteTick persists one tick and its quotes.
	WriteTick(ctx context.Context, tick TickRecord, quotes []QuoteRecord) error

	// ReadTicks returns the ticks of a run in time order.
	ReadTicks(ctx context.Context, runID string) ([]TickRecord, error)

	// ReadQuotes returns the quotes of a run in time, then symbol, order.
	ReadQuotes(ctx context.Context, runID string) ([]QuoteRecord, error)
}

// Recorder adapts a TickStore to index.Recorder for one run.
type Recorder struct {
	name  string
	runID string
	store TickStore
}

var _ index.Recorder = (*Recorder)(nil)

// NewRecorder returns a recorder writing ticks of runID to s.
func NewRecorder(name, runID string, s TickStore) *Recorder {
	return &Recorder{name: name, runID: runID, store: s}
}

// Name identifies the recorder in logs.
func (r *Recorder) Name() string { return r.name }

// Record flattens t and writes it.
func (r *Recorder) Record(ctx context.Context, t index.Tick) error {
	tr, qs := FromTick(r.runID, t)
	return r.store.WriteTick(ctx, tr, qs)
}
