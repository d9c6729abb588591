package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/fetcher"
	"github.com/reposhub/reposhub/internal/model"
	"github.com/reposhub/reposhub/pkg/kafka"
	"github.com/reposhub/reposhub/pkg/log"
)

// CountWorker drains the count topic: each message names one derived count
// (or the score) of one entity to recompute and persist. No priority
// ordering is needed here.
type CountWorker struct {
	Config   *cfg.Config
	Logger   log.Logger
	Resolver Resolver
	Dead     DeadLetters

	consumer *kafka.Consumer
}

func NewCountWorker(config *cfg.Config, logger log.Logger, resolver Resolver, dead DeadLetters, consumer *kafka.Consumer) (*CountWorker, error) {
	return &CountWorker{
		Config:   config,
		Logger:   logger,
		Resolver: resolver,
		Dead:     dead,
		consumer: consumer,
	}, nil
}

// countTypes lists every count type a message may carry; messages are keyed
// by count type on the topic.
func countTypes() []string {
	return []string{
		model.RelFollowers,
		model.RelFollowing,
		model.RelRepositories,
		model.RelContributors,
		model.RelContributing,
		fetcher.CountScore,
	}
}

// Run registers one handler per count type and consumes until ctx is done.
func (w *CountWorker) Run(ctx context.Context) error {
	for _, name := range countTypes() {
		w.consumer.RegisterHandler(name, func(value []byte) error {
			return w.Handle(ctx, value)
		})
	}
	return w.consumer.Start(ctx)
}

// Handle recomputes the count named by one serialized message. Errors are
// terminal for the message only, except a transient resolve failure, which
// is returned so the consumer records it.
func (w *CountWorker) Handle(ctx context.Context, value []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.Logger.Critical(ctx, "Panic while handling count request %q: %v", value, r)
			err = nil
		}
	}()

	var msg model.CountMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		w.deadLetter(ctx, fmt.Sprintf("malformed count request: %v", err), value)
		return nil
	}

	ref, err := model.ParseRef(msg.Object)
	if err != nil {
		w.deadLetter(ctx, fmt.Sprintf("invalid object reference: %v", err), value)
		return nil
	}

	entity, err := w.Resolver.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			w.deadLetter(ctx, fmt.Sprintf("cannot resolve %s: %v", msg.Object, err), value)
			return nil
		}
		return fmt.Errorf("resolving %s: %w", msg.Object, err)
	}

	if msg.CountType == fetcher.CountScore {
		if err := entity.UpdateScore(ctx, true); err != nil {
			w.Logger.Error(ctx, "Cannot update score of %s: %v", msg.Object, err)
		}
		return nil
	}

	if err := entity.UpdateCount(ctx, msg.CountType, msg.UseCount, true); err != nil {
		w.Logger.Error(ctx, "Cannot update %s count of %s: %v", msg.CountType, msg.Object, err)
	}
	return nil
}

func (w *CountWorker) deadLetter(ctx context.Context, reason string, value []byte) {
	if err := w.Dead.DeadLetter(ctx, reason, value); err != nil {
		w.Logger.Error(ctx, "Cannot dead-letter message: %v", err)
	}
}
