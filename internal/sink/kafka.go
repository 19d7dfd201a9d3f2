package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"capindex/internal/config"
	"capindex/internal/index"
)

var _ Sink = (*KafkaSink)(nil)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one message per tick, keyed by index name so all ticks
// of an index land on one partition in order.
type KafkaSink struct {
	w     MessageWriter
	runID string
	log   *slog.Logger
}

// NewKafkaSink wraps a writer.
func NewKafkaSink(w MessageWriter, runID string, log *slog.Logger) *KafkaSink {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaSink{w: w, runID: runID, log: log.With("sink", "kafka")}
}

// DialKafka checks that a broker is reachable and returns a sink writing to
// the configured topic.
func DialKafka(ctx context.Context, cfg config.KafkaSink, runID string, log *slog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka dial %s: %w", cfg.Brokers[0], err)
	}
	conn.Close()

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaSink(w, runID, log), nil
}

// Name identifies the sink in logs.
func (k *KafkaSink) Name() string { return "kafka" }

// Record writes t as a JSON snapshot.
func (k *KafkaSink) Record(ctx context.Context, t index.Tick) error {
	payload, err := encodeSnapshot(t, k.runID)
	if err != nil {
		return err
	}
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.Name),
		Value: payload,
		Time:  t.Time,
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}
