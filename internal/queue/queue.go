// Package queue is the producer side of the work queues: one fetch topic
// per depth level, one count topic, one dead-letter topic.
package queue

import (
	"context"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/model"
	"github.com/reposhub/reposhub/pkg/kafka"
	"github.com/reposhub/reposhub/pkg/log"
)

type KafkaQueue struct {
	Config *cfg.Config
	Logger log.Logger

	fetchProducers []*kafka.Producer // index = depth
	countProducer  *kafka.Producer
	deadProducer   *kafka.Producer
}

func NewKafkaQueue(config *cfg.Config, logger log.Logger) (*KafkaQueue, error) {
	maxDepth := config.Fetcher.MaxDepth
	if maxDepth < 0 {
		maxDepth = 0
	}

	fetchProducers := make([]*kafka.Producer, maxDepth+1)
	for depth := 0; depth <= maxDepth; depth++ {
		fetchProducers[depth] = kafka.NewProducer(config, logger, config.FetchTopic(depth))
	}

	return &KafkaQueue{
		Config:         config,
		Logger:         logger,
		fetchProducers: fetchProducers,
		countProducer:  kafka.NewProducer(config, logger, config.Kafka.TopicCount),
		deadProducer:   kafka.NewProducer(config, logger, config.Kafka.TopicDeadLetter),
	}, nil
}

// EnqueueFetch publishes a fetch request on the topic of its depth level.
// Depths beyond the configured maximum are clamped.
func (q *KafkaQueue) EnqueueFetch(ctx context.Context, msg model.FetchMessage) error {
	depth := msg.Depth
	if depth < 0 {
		depth = 0
	}
	if depth > q.Config.Fetcher.MaxDepth {
		depth = q.Config.Fetcher.MaxDepth
	}
	msg.Depth = depth
	return q.fetchProducers[depth].Publish(ctx, msg.Object, msg)
}

// EnqueueCount publishes a count recompute request, keyed by count type so
// the consumer's handler registry dispatches it.
func (q *KafkaQueue) EnqueueCount(ctx context.Context, msg model.CountMessage) error {
	return q.countProducer.Publish(ctx, msg.CountType, msg)
}

// DeadLetter parks a message that could not be processed, keeping the
// original bytes untouched.
func (q *KafkaQueue) DeadLetter(ctx context.Context, reason string, value []byte) error {
	q.Logger.Warn(ctx, "Dead-lettering message: %s", reason)
	return q.deadProducer.PublishRaw(ctx, reason, value)
}

func (q *KafkaQueue) Close() error {
	var firstErr error
	for _, p := range q.fetchProducers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := q.countProducer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := q.deadProducer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
