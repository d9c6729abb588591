package worker

import (
	"context"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/pkg/kafka"
	"github.com/reposhub/reposhub/pkg/log"
)

const (
	defaultScanTimeout  = time.Second
	defaultErrorBackoff = time.Second
)

// depthReader is the per-topic reader surface the scan loop needs.
// *kafka.Reader implements it.
type depthReader interface {
	Topic() string
	Fetch(ctx context.Context) (kafkago.Message, error)
	Commit(ctx context.Context, msg kafkago.Message) error
	Close() error
}

// KafkaSource reads the per-depth fetch topics with a priority scan: each
// round polls the deepest topic first and falls through to shallower ones
// only when it is empty. This is a FIFO per depth with a priority scan, not
// a strict global ordering; requests with the most remaining recursion are
// progressed first so one root's fan-out completes before unrelated roots
// start.
type KafkaSource struct {
	Config *cfg.Config
	Logger log.Logger

	readers      []depthReader // descending depth order
	scanTimeout  time.Duration
	errorBackoff time.Duration
}

func NewKafkaSource(config *cfg.Config, logger log.Logger) (*KafkaSource, error) {
	maxDepth := config.Fetcher.MaxDepth
	if maxDepth < 0 {
		maxDepth = 0
	}

	readers := make([]depthReader, 0, maxDepth+1)
	for depth := maxDepth; depth >= 0; depth-- {
		readers = append(readers, kafka.NewReader(config, logger, config.FetchTopic(depth), config.Kafka.ConsumerGroup))
	}

	return &KafkaSource{
		Config:       config,
		Logger:       logger,
		readers:      readers,
		scanTimeout:  defaultScanTimeout,
		errorBackoff: defaultErrorBackoff,
	}, nil
}

// Next blocks until a fetch request is available on any depth topic and
// returns it together with its commit callback.
func (s *KafkaSource) Next(ctx context.Context) ([]byte, func(context.Context) error, error) {
	for {
		for _, reader := range s.readers {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}

			scanCtx, cancel := context.WithTimeout(ctx, s.scanTimeout)
			msg, err := reader.Fetch(scanCtx)
			cancel()

			if err == nil {
				r := reader
				m := msg
				commit := func(cctx context.Context) error {
					return r.Commit(cctx, m)
				}
				return msg.Value, commit, nil
			}

			if errors.Is(err, context.DeadlineExceeded) {
				// Topic empty for this scan slot, fall through to the next depth
				continue
			}
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			s.Logger.Error(ctx, "Cannot fetch from %s: %v", reader.Topic(), err)
			if err := s.pause(ctx); err != nil {
				return nil, nil, err
			}
		}
	}
}

// pause waits out the error backoff so a broken broker connection does not
// turn the scan loop into a hot log spin.
func (s *KafkaSource) pause(ctx context.Context) error {
	timer := time.NewTimer(s.errorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *KafkaSource) Close() error {
	var firstErr error
	for _, reader := range s.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
