package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"capindex/internal/config"
	"capindex/internal/index"
)

// Compile-time check to ensure RedisSink implements Sink
var _ Sink = (*RedisSink)(nil)

// RedisSink keeps the latest snapshot under <prefix>:latest and publishes
// every snapshot on the <prefix>.ticks channel.
type RedisSink struct {
	client *redis.Client
	prefix string
	runID  string
	log    *slog.Logger
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client *redis.Client, prefix, runID string, log *slog.Logger) *RedisSink {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = "capindex"
	}
	return &RedisSink{client: client, prefix: prefix, runID: runID, log: log.With("sink", "redis")}
}

// DialRedis connects to the configured server and pings it.
func DialRedis(ctx context.Context, cfg config.RedisSink, runID string, log *slog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisSink(client, cfg.Prefix, runID, log), nil
}

// Name identifies the sink in logs.
func (r *RedisSink) Name() string { return "redis" }

// LatestKey is the key holding the most recent snapshot.
func (r *RedisSink) LatestKey() string { return r.prefix + ":latest" }

// Channel is the pub/sub channel carrying every snapshot.
func (r *RedisSink) Channel() string { return r.prefix + ".ticks" }

// Record stores and publishes t in one round trip.
func (r *RedisSink) Record(ctx context.Context, t index.Tick) error {
	payload, err := encodeSnapshot(t, r.runID)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.LatestKey(), payload, 0)
	pipe.Publish(ctx, r.Channel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisSink) Close() error {
	return r.client.Close()
}
