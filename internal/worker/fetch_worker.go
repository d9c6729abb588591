// Package worker holds the long-running queue consumers: the fetch worker
// draining the per-depth fetch topics and the count worker draining the
// count topic. A bad message is dead-lettered or logged, never fatal.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/model"
	"github.com/reposhub/reposhub/pkg/log"
)

// Source yields serialized fetch requests, deepest first. The returned
// commit callback acknowledges the message after handling.
type Source interface {
	Next(ctx context.Context) (value []byte, commit func(context.Context) error, err error)
}

// Resolver turns an object reference into the stored entity.
type Resolver interface {
	Resolve(ctx context.Context, ref model.Ref) (model.Syncable, error)
}

// Orchestrator runs one fetch-full traversal step.
type Orchestrator interface {
	FetchFull(ctx context.Context, s model.Syncable, tokenUID string, depth int, toIgnore *model.RefSet) error
}

// DeadLetters parks messages that cannot be processed.
type DeadLetters interface {
	DeadLetter(ctx context.Context, reason string, value []byte) error
}

type FetchWorker struct {
	Config   *cfg.Config
	Logger   log.Logger
	Source   Source
	Resolver Resolver
	Fetcher  Orchestrator
	Dead     DeadLetters
}

func NewFetchWorker(config *cfg.Config, logger log.Logger, source Source, resolver Resolver, orchestrator Orchestrator, dead DeadLetters) (*FetchWorker, error) {
	return &FetchWorker{
		Config:   config,
		Logger:   logger,
		Source:   source,
		Resolver: resolver,
		Fetcher:  orchestrator,
		Dead:     dead,
	}, nil
}

// Run consumes fetch requests until ctx is done. Handled messages are
// committed even when handling failed, because the failure is already
// recorded on the entity, the token or the dead-letter topic and retrying
// the same bytes would not change the outcome. Only a transient failure
// (the entity store being unreachable) leaves the message uncommitted so a
// later consumer sees it again.
func (w *FetchWorker) Run(ctx context.Context) error {
	w.Logger.Info(ctx, "Fetch worker started")

	for {
		value, commit, err := w.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				w.Logger.Info(ctx, "Fetch worker stopping")
				return nil
			}
			w.Logger.Error(ctx, "Cannot read fetch request: %v", err)
			continue
		}

		if err := w.Handle(ctx, value); err != nil {
			w.Logger.Error(ctx, "Leaving fetch request uncommitted: %v", err)
			continue
		}

		if err := commit(ctx); err != nil {
			w.Logger.Error(ctx, "Cannot commit fetch request: %v", err)
		}
	}
}

// Handle processes a single serialized fetch request. It never panics
// upward; a panicking traversal is logged and the loop goes on. A non-nil
// return means the message was neither handled nor dead-lettered and must
// not be committed.
func (w *FetchWorker) Handle(ctx context.Context, value []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.Logger.Critical(ctx, "Panic while handling fetch request %q: %v", value, r)
			err = nil
		}
	}()

	var msg model.FetchMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		w.deadLetter(ctx, fmt.Sprintf("malformed fetch request: %v", err), value)
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

	toIgnore := model.NewRefSet(msg.ToIgnore...)
	if err := w.Fetcher.FetchFull(ctx, entity, msg.Token, msg.Depth, toIgnore); err != nil {
		w.Logger.Error(ctx, "Fetch full of %s failed: %v", msg.Object, err)
	}
	return nil
}

func (w *FetchWorker) deadLetter(ctx context.Context, reason string, value []byte) {
	if err := w.Dead.DeadLetter(ctx, reason, value); err != nil {
		w.Logger.Error(ctx, "Cannot dead-letter message: %v", err)
	}
}
