// Package fetcher orchestrates bringing entities and their graph
// neighborhood up to date. A traversal never recurses on the call stack:
// discovered entities are re-enqueued at depth-1 and picked up by workers.
package fetcher

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/backend"
	"github.com/reposhub/reposhub/internal/model"
	"github.com/reposhub/reposhub/internal/token"
	"github.com/reposhub/reposhub/pkg/log"
)

// CountScore is the pseudo count type asking the count worker to recompute
// the entity score instead of a relation count.
const CountScore = "score"

// Queue is the producer side of the work queues.
type Queue interface {
	EnqueueFetch(ctx context.Context, msg model.FetchMessage) error
	EnqueueCount(ctx context.Context, msg model.CountMessage) error
}

// Pools hands out the token pool of a backend.
type Pools interface {
	For(backendName string) *token.Pool
}

type Fetcher struct {
	Config   *cfg.Config
	Logger   log.Logger
	Backends *backend.Registry
	Pools    Pools
	Queue    Queue
}

func NewFetcher(config *cfg.Config, logger log.Logger, backends *backend.Registry, pools Pools, queue Queue) (*Fetcher, error) {
	return &Fetcher{
		Config:   config,
		Logger:   logger,
		Backends: backends,
		Pools:    pools,
		Queue:    queue,
	}, nil
}

// minFetchDelta is the per-kind minimum interval between two fetches of the
// same entity.
func (f *Fetcher) minFetchDelta(kind model.Kind) time.Duration {
	minutes := f.Config.Fetcher.MinFetchDeltaAccountMin
	if kind == model.KindRepository {
		minutes = f.Config.Fetcher.MinFetchDeltaRepositoryMin
	}
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// FetchAllowed reports whether a direct fetch of the entity would do work
// right now: nobody else is fetching it and the last fetch is old enough.
func (f *Fetcher) FetchAllowed(s model.Syncable, now time.Time) bool {
	if s.SyncStatus() == model.StatusUpdating {
		return false
	}
	last := s.LastFetchedAt()
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= f.minFetchDelta(s.Ref().Kind)
}

// FetchOne refreshes the entity's own data with the given token. Provider
// failures are recorded before being returned: a 401 on the token, every
// code on the entity's backend status.
func (f *Fetcher) FetchOne(ctx context.Context, s model.Syncable, tok *token.Token) error {
	bk, err := f.Backends.Get(s.BackendName())
	if err != nil {
		return err
	}

	if err := s.BeginFetch(ctx); err != nil {
		return err
	}

	if err := s.Fetch(ctx, bk, tok); err != nil {
		f.routeFetchError(ctx, s, tok, err)
		return err
	}
	return nil
}

// routeFetchError maps a provider failure onto the stores: a 401 marks the
// token, every typed failure marks the entity. The entity status is restored
// either way so the row does not stay stuck in `updating`.
func (f *Fetcher) routeFetchError(ctx context.Context, s model.Syncable, tok *token.Token, err error) {
	code := backend.CodeOf(err)

	if code == http.StatusUnauthorized {
		pool := f.Pools.For(s.BackendName())
		if rerr := pool.RecordResult(ctx, tok, code, err.Error()); rerr != nil {
			f.Logger.Error(ctx, "Cannot record token status: %v", rerr)
		}
	}

	entityCode := code
	if entityCode == 0 {
		entityCode = http.StatusInternalServerError
	}
	if ferr := s.FailFetch(ctx, entityCode, err.Error()); ferr != nil {
		f.Logger.Error(ctx, "Cannot record fetch failure on %s: %v", s.Ref(), ferr)
	}
}

// FetchFull runs one traversal step for the entity: a direct fetch when
// allowed, then one level of relation expansion, with discovered entities
// re-enqueued at depth-1. tokenUID, when set, names the preferred token.
// toIgnore is the traversal's visited set; the entity joins it here.
//
// Provider failures are recorded and swallowed so a bad entity never takes
// down the rest of a traversal; only infrastructure errors are returned.
func (f *Fetcher) FetchFull(ctx context.Context, s model.Syncable, tokenUID string, depth int, toIgnore *model.RefSet) error {
	if toIgnore == nil {
		toIgnore = model.NewRefSet()
	}

	bk, err := f.Backends.Get(s.BackendName())
	if err != nil {
		return err
	}
	pool := f.Pools.For(s.BackendName())

	// Direct fetch, unless this traversal already visited the entity or the
	// stored data is fresh enough.
	directFetch := !toIgnore.Has(s.Ref()) && f.FetchAllowed(s, time.Now())

	if !directFetch && depth <= 0 {
		toIgnore.Add(s.Ref())
		return f.enqueueCounts(ctx, s, false)
	}

	tok, err := f.acquireToken(ctx, pool, s, tokenUID)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := pool.Release(ctx, tok); rerr != nil {
			f.Logger.Error(ctx, "Cannot release token: %v", rerr)
		}
	}()

	if directFetch {
		if err := f.FetchOne(ctx, s, tok); err != nil {
			if errors.Is(err, model.ErrFetchInFlight) {
				f.Logger.Info(ctx, "Skipping %s, fetch already in flight", s.Ref())
				return nil
			}
			if backend.CodeOf(err) == 0 {
				return err
			}
			// Recorded on the entity/token by FetchOne; the traversal stops
			// here for this branch.
			f.Logger.Warn(ctx, "Fetch of %s failed: %v", s.Ref(), err)
			return nil
		}
	}
	toIgnore.Add(s.Ref())

	if depth <= 0 {
		return f.enqueueCounts(ctx, s, false)
	}

	// Relation expansion. Every listing shares the traversal's visited set,
	// so siblings discovering each other do not double-enqueue.
	discovered := make(map[string]model.Syncable)
	order := make([]string, 0)
	for _, kind := range s.RelatedKinds(bk) {
		related, err := s.FetchRelated(ctx, bk, kind, tok)
		if err != nil {
			if backend.CodeOf(err) == 0 {
				return err
			}
			f.routeFetchError(ctx, s, tok, err)
			f.Logger.Warn(ctx, "Listing %s of %s failed: %v", kind, s.Ref(), err)
			continue
		}
		for _, child := range related {
			ref := child.Ref().String()
			if toIgnore.Has(child.Ref()) {
				continue
			}
			if _, ok := discovered[ref]; ok {
				continue
			}
			discovered[ref] = child
			order = append(order, ref)
		}
	}

	for _, child := range discovered {
		toIgnore.Add(child.Ref())
	}
	ignoreList := toIgnore.List()

	for _, ref := range order {
		msg := model.FetchMessage{
			Object:   ref,
			Token:    tokenUID,
			Depth:    depth - 1,
			ToIgnore: ignoreList,
		}
		if err := f.Queue.EnqueueFetch(ctx, msg); err != nil {
			return err
		}
		// Discovered entities only carry official figures so far.
		if err := f.enqueueCounts(ctx, discovered[ref], true); err != nil {
			return err
		}
	}

	return f.enqueueCounts(ctx, s, false)
}

// acquireToken resolves the preferred token (the message's uid, then the
// entity's own stored credentials) and blocks on the pool until one is free.
func (f *Fetcher) acquireToken(ctx context.Context, pool *token.Pool, s model.Syncable, tokenUID string) (*token.Token, error) {
	preferred, err := pool.ByUID(ctx, tokenUID)
	if err != nil {
		return nil, err
	}
	if preferred == nil {
		login, secret := s.OwnCredentials()
		preferred, err = pool.ForCredentials(ctx, login, secret)
		if err != nil {
			return nil, err
		}
	}
	return pool.Acquire(ctx, preferred, true)
}

// enqueueCounts schedules a recount of every derived count of the entity,
// plus a score recompute.
func (f *Fetcher) enqueueCounts(ctx context.Context, s model.Syncable, useOfficial bool) error {
	ref := s.Ref().String()
	for _, name := range s.CountTypes() {
		msg := model.CountMessage{Object: ref, CountType: name, UseCount: useOfficial}
		if err := f.Queue.EnqueueCount(ctx, msg); err != nil {
			return err
		}
	}
	return f.Queue.EnqueueCount(ctx, model.CountMessage{Object: ref, CountType: CountScore})
}
