package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Compile-time interface checks.
var _ TickStore = (*ParquetStore)(nil)

// ParquetStore buffers ticks of one run in memory and archives them as
// Parquet files on Flush. Files are laid out as:
//
//	<DataDir>/ticks/<YYYY-MM-DD>_<run>.parquet
//	<DataDir>/quotes/<YYYY-MM-DD>_<run>.parquet
type ParquetStore struct {
	DataDir string

	// FlushEvery flushes after that many buffered ticks; 0 flushes only on
	// Flush and Close.
	FlushEvery int

	mu     sync.Mutex
	ticks  []TickRow
	quotes []QuoteRow
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// TickRow is the Parquet schema for index values.
type TickRow struct {
	RunID     string  `parquet:"run_id"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Value     float64 `parquet:"value"`
	TotalCap  float64 `parquet:"total_cap"`
	Source    string  `parquet:"source"`
}

// QuoteRow is the Parquet schema for constituent annotations.
type QuoteRow struct {
	RunID      string  `parquet:"run_id"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Symbol     string  `parquet:"symbol"`
	Price      float64 `parquet:"price"`
	PrevClose  float64 `parquet:"prev_close"`
	DailyPct   float64 `parquet:"daily_pct"`
	Weight     float64 `parquet:"weight"`
	DailyTrend string  `parquet:"daily_trend"`
	TickTrend  string  `parquet:"tick_trend"`
}

func tickRow(r TickRecord) TickRow {
	return TickRow{
		RunID:     r.RunID,
		Timestamp: r.Time.UnixMilli(),
		Value:     r.Value,
		TotalCap:  r.TotalCap,
		Source:    r.Source,
	}
}

func (r TickRow) record() TickRecord {
	return TickRecord{
		RunID:    r.RunID,
		Time:     time.UnixMilli(r.Timestamp).UTC(),
		Value:    r.Value,
		TotalCap: r.TotalCap,
		Source:   r.Source,
	}
}

func quoteRow(q QuoteRecord) QuoteRow {
	return QuoteRow{
		RunID:      q.RunID,
		Timestamp:  q.Time.UnixMilli(),
		Symbol:     q.Symbol,
		Price:      q.Price,
		PrevClose:  q.PrevClose,
		DailyPct:   q.DailyPct,
		Weight:     q.Weight,
		DailyTrend: q.DailyTrend,
		TickTrend:  q.TickTrend,
	}
}

func (q QuoteRow) record() QuoteRecord {
	return QuoteRecord{
		RunID:      q.RunID,
		Time:       time.UnixMilli(q.Timestamp).UTC(),
		Symbol:     q.Symbol,
		Price:      q.Price,
		PrevClose:  q.PrevClose,
		DailyPct:   q.DailyPct,
		Weight:     q.Weight,
		DailyTrend: q.DailyTrend,
		TickTrend:  q.TickTrend,
	}
}

// ---------------------------------------------------------------------------
// TickStore implementation
// ---------------------------------------------------------------------------

// WriteTick buffers a tick and its quotes.
func (s *ParquetStore) WriteTick(_ context.Context, tick TickRecord, quotes []QuoteRecord) error {
	s.mu.Lock()
	s.ticks = append(s.ticks, tickRow(tick))
	for _, q := range quotes {
		s.quotes = append(s.quotes, quoteRow(q))
	}
	full := s.FlushEvery > 0 && len(s.ticks) >= s.FlushEvery
	s.mu.Unlock()

	if full {
		return s.Flush()
	}
	return nil
}

// Flush writes buffered rows, merging with any file already on disk for the
// same date and run.
func (s *ParquetStore) Flush() error {
	s.mu.Lock()
	ticks, quotes := s.ticks, s.quotes
	s.ticks, s.quotes = nil, nil
	s.mu.Unlock()

	type key struct {
		date  string
		runID string
	}
	tickGroups := make(map[key][]TickRow)
	for _, r := range ticks {
		k := key{date: dateOf(r.Timestamp), runID: r.RunID}
		tickGroups[k] = append(tickGroups[k], r)
	}
	quoteGroups := make(map[key][]QuoteRow)
	for _, q := range quotes {
		k := key{date: dateOf(q.Timestamp), runID: q.RunID}
		quoteGroups[k] = append(quoteGroups[k], q)
	}

	for k, rows := range tickGroups {
		path := s.tickPath(k.date, k.runID)
		existing, _ := readParquetFile[TickRow](path)
		if err := writeParquetFile(path, mergeTickRows(existing, rows)); err != nil {
			return fmt.Errorf("writing ticks for %s/%s: %w", k.date, k.runID, err)
		}
	}
	for k, rows := range quoteGroups {
		path := s.quotePath(k.date, k.runID)
		existing, _ := readParquetFile[QuoteRow](path)
		if err := writeParquetFile(path, mergeQuoteRows(existing, rows)); err != nil {
			return fmt.Errorf("writing quotes for %s/%s: %w", k.date, k.runID, err)
		}
	}
	return nil
}

// Close flushes any buffered rows.
func (s *ParquetStore) Close() error {
	return s.Flush()
}

// ReadTicks returns all archived ticks of a run in time order. Buffered rows
// are not included until flushed.
func (s *ParquetStore) ReadTicks(_ context.Context, runID string) ([]TickRecord, error) {
	paths, err := s.runFiles("ticks", runID)
	if err != nil {
		return nil, err
	}
	var out []TickRecord
	for _, p := range paths {
		rows, err := ReadTickFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// ReadQuotes returns all archived quotes of a run in time, then symbol, order.
func (s *ParquetStore) ReadQuotes(_ context.Context, runID string) ([]QuoteRecord, error) {
	paths, err := s.runFiles("quotes", runID)
	if err != nil {
		return nil, err
	}
	var out []QuoteRecord
	for _, p := range paths {
		rows, err := readParquetFile[QuoteRow](p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		for _, r := range rows {
			out = append(out, r.record())
		}
	}
	sortQuotes(out)
	return out, nil
}

// ReadTickFile reads one tick Parquet file.
func ReadTickFile(path string) ([]TickRecord, error) {
	rows, err := readParquetFile[TickRow](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out := make([]TickRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// ListTickFiles lists the tick files under DataDir in name order.
func (s *ParquetStore) ListTickFiles() ([]string, error) {
	return listParquet(filepath.Join(s.DataDir, "ticks"), "")
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// tickPath returns <dataDir>/ticks/<YYYY-MM-DD>_<run>.parquet.
func (s *ParquetStore) tickPath(date, runID string) string {
	return filepath.Join(s.DataDir, "ticks", date+"_"+runID+".parquet")
}

// quotePath returns <dataDir>/quotes/<YYYY-MM-DD>_<run>.parquet.
func (s *ParquetStore) quotePath(date, runID string) string {
	return filepath.Join(s.DataDir, "quotes", date+"_"+runID+".parquet")
}

func (s *ParquetStore) runFiles(kind, runID string) ([]string, error) {
	return listParquet(filepath.Join(s.DataDir, kind), "_"+runID+".parquet")
}

func listParquet(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		if suffix != "" && !strings.HasSuffix(name, suffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func dateOf(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTickRows deduplicates tick rows by (run, timestamp), preferring
// incoming rows over existing ones.
func mergeTickRows(existing, incoming []TickRow) []TickRow {
	type key struct {
		runID string
		ts    int64
	}
	seen := make(map[key]TickRow, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.RunID, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.RunID, r.Timestamp}] = r
	}

	merged := make([]TickRow, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// mergeQuoteRows deduplicates quote rows by (run, timestamp, symbol),
// preferring incoming rows. Results are sorted by timestamp, then symbol.
func mergeQuoteRows(existing, incoming []QuoteRow) []QuoteRow {
	type key struct {
		runID  string
		ts     int64
		symbol string
	}
	seen := make(map[key]QuoteRow, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.RunID, r.Timestamp, r.Symbol}] = r
	}
	for _, r := range incoming {
		seen[key{r.RunID, r.Timestamp, r.Symbol}] = r
	}

	merged := make([]QuoteRow, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Symbol < merged[j].Symbol
	})
	return merged
}

func sortQuotes(qs []QuoteRecord) {
	sort.Slice(qs, func(i, j int) bool {
		if !qs[i].Time.Equal(qs[j].Time) {
			return qs[i].Time.Before(qs[j].Time)
		}
		return qs[i].Symbol < qs[j].Symbol
	})
}
