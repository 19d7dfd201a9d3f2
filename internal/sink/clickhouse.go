package sink

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"capindex/internal/config"
	"capindex/internal/index"
)

var _ Sink = (*ClickHouseSink)(nil)

// ClickHouseSink inserts one row per constituent quote per tick.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
	runID string
	log   *slog.Logger
}

var safeIdentRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validateIdent(s string) error {
	if s == "" {
		return fmt.Errorf("empty identifier")
	}
	if !safeIdentRe.MatchString(s) {
		return fmt.Errorf("unsafe identifier %q (allowed: [a-zA-Z0-9_])", s)
	}
	return nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id      String,
	ts          DateTime64(3, 'UTC'),
	index_name  LowCardinality(String),
	index_value Float64,
	total_cap   Float64,
	source      LowCardinality(String),
	symbol      LowCardinality(String),
	price       Float64,
	prev_close  Float64,
	daily_pct   Float64,
	weight      Float64,
	daily_trend LowCardinality(String),
	tick_trend  LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (index_name, symbol, ts)`, table)
}

// DialClickHouse opens a native connection, pings it and creates the table
// if needed.
func DialClickHouse(ctx context.Context, cfg config.ClickHouseSink, runID string, log *slog.Logger) (*ClickHouseSink, error) {
	if err := validateIdent(cfg.Database); err != nil {
		return nil, err
	}
	if err := validateIdent(cfg.Table); err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", cfg.Addr, err)
	}
	if err := conn.Exec(ctx, createTableSQL(cfg.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse create table %s: %w", cfg.Table, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &ClickHouseSink{conn: conn, table: cfg.Table, runID: runID, log: log.With("sink", "clickhouse")}, nil
}

// Name identifies the sink in logs.
func (c *ClickHouseSink) Name() string { return "clickhouse" }

// Record inserts the quotes of t as one batch.
func (c *ClickHouseSink) Record(ctx context.Context, t index.Tick) error {
	rows := quoteRows(t, c.runID)
	if len(rows) == 0 {
		return nil
	}
	b, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+c.table)
	if err != nil {
		return fmt.Errorf("clickhouse prepare: %w", err)
	}
	for _, r := range rows {
		if err := b.Append(r...); err != nil {
			b.Abort()
			return fmt.Errorf("clickhouse append: %w", err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("clickhouse send: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *ClickHouseSink) Close() error {
	return c.conn.Close()
}

// quoteRows flattens a tick into rows in table column order.
func quoteRows(t index.Tick, runID string) [][]any {
	ts := t.Time.UTC()
	source := t.Source.String()
	rows := make([][]any, 0, len(t.Quotes))
	for _, q := range t.Quotes {
		rows = append(rows, []any{
			runID,
			ts,
			t.Name,
			t.Value,
			t.TotalCap,
			source,
			q.Symbol,
			q.Price,
			q.PrevClose,
			q.DailyPct,
			q.Weight,
			q.DailyTrend.String(),
			q.TickTrend.String(),
		})
	}
	return rows
}
