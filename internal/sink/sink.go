// Package sink publishes index ticks to external systems: Redis, Kafka and
// ClickHouse. Each sink is an index.Recorder; connections are made once at
// startup and a sink that cannot connect is left out.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"capindex/internal/config"
	"capindex/internal/feed"
	"capindex/internal/index"
	"capindex/internal/util"
)

const (
	connectAttempts = 3
	connectDelay    = time.Second
)

// Open connects every enabled sink in cfg. A sink whose connection still
// fails after retries is logged and skipped.
func Open(ctx context.Context, cfg config.Sinks, runID string, log *slog.Logger) []Sink {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sink")

	var sinks []Sink
	add := func(name string, open func(context.Context) (Sink, error)) {
		var s Sink
		err := util.Retry(ctx, log, "connect "+name, connectAttempts, connectDelay, func(ctx context.Context) error {
			var err error
			s, err = open(ctx)
			return err
		})
		if err != nil {
			log.Warn("sink disabled", "sink", name, "error", err)
			return
		}
		log.Info("sink connected", "sink", name)
		sinks = append(sinks, s)
	}

	if cfg.Redis.Enabled {
		add("redis", func(ctx context.Context) (Sink, error) {
			return DialRedis(ctx, cfg.Redis, runID, log)
		})
	}
	if cfg.Kafka.Enabled {
		add("kafka", func(ctx context.Context) (Sink, error) {
			return DialKafka(ctx, cfg.Kafka, runID, log)
		})
	}
	if cfg.ClickHouse.Enabled {
		add("clickhouse", func(ctx context.Context) (Sink, error) {
			return DialClickHouse(ctx, cfg.ClickHouse, runID, log)
		})
	}
	return sinks
}

// Sink is a closable tick recorder.
type Sink interface {
	index.Recorder
	index.Named
	io.Closer
}

// encodeSnapshot renders a tick in the feed's JSON wire form, so every
// consumer sees one schema.
func encodeSnapshot(t index.Tick, runID string) ([]byte, error) {
	b, err := json.Marshal(feed.SnapshotFromTick(t, runID))
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return b, nil
}
