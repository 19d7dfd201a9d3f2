package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ TickStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	index_name TEXT NOT NULL,
	base_value REAL NOT NULL,
	base_cap   REAL NOT NULL,
	tickers    TEXT NOT NULL,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ticks (
	run_id    TEXT NOT NULL,
	ts        INTEGER NOT NULL,
	value     REAL NOT NULL,
	total_cap REAL NOT NULL,
	source    TEXT NOT NULL,
	PRIMARY KEY (run_id, ts)
);
CREATE TABLE IF NOT EXISTS quotes (
	run_id      TEXT NOT NULL,
	ts          INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	price       REAL NOT NULL,
	prev_close  REAL NOT NULL,
	daily_pct   REAL NOT NULL,
	weight      REAL NOT NULL,
	daily_trend TEXT NOT NULL,
	tick_trend  TEXT NOT NULL,
	PRIMARY KEY (run_id, ts, symbol)
);
`

// SQLiteStore implements RunStore and TickStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the update loop is the only writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts or replaces a run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, index_name, base_value, base_cap, tickers, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.IndexName, run.BaseValue, run.BaseCap,
		strings.Join(run.Tickers, ","), run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns all runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, index_name, base_value, base_cap, tickers, started_at
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			tickers string
			started int64
		)
		if err := rows.Scan(&r.ID, &r.IndexName, &r.BaseValue, &r.BaseCap, &tickers, &started); err != nil {
			return nil, err
		}
		if tickers != "" {
			r.Tickers = strings.Split(tickers, ",")
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run, or sql.ErrNoRows wrapped if it does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, error) {
	var (
		r       Run
		tickers string
		started int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, index_name, base_value, base_cap, tickers, started_at FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.IndexName, &r.BaseValue, &r.BaseCap, &tickers, &started)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: %w", id, err)
	}
	if tickers != "" {
		r.Tickers = strings.Split(tickers, ",")
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	return r, nil
}

// ---------------------------------------------------------------------------
// TickStore implementation
// ---------------------------------------------------------------------------

// WriteTick inserts a tick and its quotes in one transaction.
func (s *SQLiteStore) WriteTick(ctx context.Context, tick TickRecord, quotes []QuoteRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := tick.Time.UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO ticks (run_id, ts, value, total_cap, source) VALUES (?, ?, ?, ?, ?)`,
		tick.RunID, ts, tick.Value, tick.TotalCap, tick.Source); err != nil {
		return fmt.Errorf("inserting tick: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO quotes
		 (run_id, ts, symbol, price, prev_close, daily_pct, weight, daily_trend, tick_trend)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, q := range quotes {
		if _, err := stmt.ExecContext(ctx, q.RunID, q.Time.UnixMilli(), q.Symbol, q.Price,
			q.PrevClose, q.DailyPct, q.Weight, q.DailyTrend, q.TickTrend); err != nil {
			return fmt.Errorf("inserting quote %s: %w", q.Symbol, err)
		}
	}
	return tx.Commit()
}

// ReadTicks returns the ticks of a run in time order.
func (s *SQLiteStore) ReadTicks(ctx context.Context, runID string) ([]TickRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, ts, value, total_cap, source FROM ticks WHERE run_id = ? ORDER BY ts`, runID)
	if err != nil {
		return nil, fmt.Errorf("reading ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRecord
	for rows.Next() {
		var (
			r  TickRecord
			ts int64
		)
		if err := rows.Scan(&r.RunID, &ts, &r.Value, &r.TotalCap, &r.Source); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadQuotes returns the quotes of a run in time, then symbol, order.
func (s *SQLiteStore) ReadQuotes(ctx context.Context, runID string) ([]QuoteRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, ts, symbol, price, prev_close, daily_pct, weight, daily_trend, tick_trend
		 FROM quotes WHERE run_id = ? ORDER BY ts, symbol`, runID)
	if err != nil {
		return nil, fmt.Errorf("reading quotes: %w", err)
	}
	defer rows.Close()

	var out []QuoteRecord
	for rows.Next() {
		var (
			q  QuoteRecord
			ts int64
		)
		if err := rows.Scan(&q.RunID, &ts, &q.Symbol, &q.Price, &q.PrevClose, &q.DailyPct,
			&q.Weight, &q.DailyTrend, &q.TickTrend); err != nil {
			return nil, err
		}
		q.Time = time.UnixMilli(ts).UTC()
		out = append(out, q)
	}
	return out, rows.Err()
}
