package kafka

import (
	"context"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/pkg/log"
	"github.com/segmentio/kafka-go"
)

// Reader is a thin wrapper exposing explicit fetch/commit. The fetch worker
// needs it to scan several depth topics in priority order, which the
// handler-based Consumer cannot do.
type Reader struct {
	Config *cfg.Config
	Logger log.Logger
	reader *kafka.Reader
}

// NewReader creates a Reader for a single topic within a consumer group.
func NewReader(config *cfg.Config, logger log.Logger, topic, groupID string) *Reader {
	if len(config.Kafka.Brokers) == 0 {
		panic("no kafka brokers configured")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:       config.Kafka.Brokers,
		Topic:         topic,
		GroupID:       groupID,
		MinBytes:      1,
		MaxBytes:      10e6,
		MaxWait:       200 * time.Millisecond,
		StartOffset:   kafka.FirstOffset,
		RetentionTime: 7 * 24 * time.Hour,
	})

	return &Reader{
		Config: config,
		Logger: logger,
		reader: reader,
	}
}

// Topic returns the topic this reader consumes.
func (r *Reader) Topic() string {
	return r.reader.Config().Topic
}

// Fetch returns the next message without committing it. It blocks until a
// message arrives or ctx is done.
func (r *Reader) Fetch(ctx context.Context) (kafka.Message, error) {
	return r.reader.FetchMessage(ctx)
}

// Commit marks the message as processed.
func (r *Reader) Commit(ctx context.Context, msg kafka.Message) error {
	return r.reader.CommitMessages(ctx, msg)
}

// Close closes the Kafka reader
func (r *Reader) Close() error {
	return r.reader.Close()
}
