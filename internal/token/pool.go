package token

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/pkg/log"
)

const defaultPollInterval = 500 * time.Millisecond

// Pool hands out exclusive tokens for one backend. Exhaustion under
// wait=false is a normal "try later" signal, not an error. Waiting under
// wait=true is bounded only by ctx cancellation and external replenishment.
type Pool struct {
	Config      *cfg.Config
	Logger      log.Logger
	BackendName string
	Store       Store

	pollInterval time.Duration
}

func NewPool(config *cfg.Config, logger log.Logger, backendName string, store Store) (*Pool, error) {
	pollInterval := defaultPollInterval
	if config != nil && config.Fetcher.TokenPollMs > 0 {
		pollInterval = time.Duration(config.Fetcher.TokenPollMs) * time.Millisecond
	}

	return &Pool{
		Config:       config,
		Logger:       logger,
		BackendName:  backendName,
		Store:        store,
		pollInterval: pollInterval,
	}, nil
}

// Acquire returns an available token and marks it in use. If preferred is
// given and still usable it is tried first. With wait=false a nil token is
// returned immediately when the pool is exhausted.
func (p *Pool) Acquire(ctx context.Context, preferred *Token, wait bool) (*Token, error) {
	if preferred != nil {
		// Re-read: status may have changed since the caller got it
		fresh, err := p.Store.ByUID(ctx, p.BackendName, preferred.UID)
		if err != nil {
			return nil, err
		}
		if fresh != nil && fresh.Usable() {
			locked, err := p.Store.TryLock(ctx, fresh.UID)
			if err != nil {
				return nil, err
			}
			if locked {
				fresh.InUse = true
				return fresh, nil
			}
		}
	}

	for {
		t, err := p.tryAcquireRandom(ctx)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}

		if !wait {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// tryAcquireRandom picks uniformly among eligible tokens and locks the first
// one it wins the compare-and-set on.
func (p *Pool) tryAcquireRandom(ctx context.Context) (*Token, error) {
	eligible, err := p.Store.Eligible(ctx, p.BackendName)
	if err != nil {
		return nil, err
	}

	for len(eligible) > 0 {
		i := rand.Intn(len(eligible))
		candidate := eligible[i]

		locked, err := p.Store.TryLock(ctx, candidate.UID)
		if err != nil {
			return nil, err
		}
		if locked {
			candidate.InUse = true
			return candidate, nil
		}

		// Lost the race for this one, try the others
		eligible = append(eligible[:i], eligible[i+1:]...)
	}

	return nil, nil
}

// Release marks the token as available again. Must be called exactly once
// per successful Acquire, including on error paths.
func (p *Pool) Release(ctx context.Context, t *Token) error {
	if t == nil {
		return nil
	}
	t.InUse = false
	return p.Store.Unlock(ctx, t.UID)
}

// RecordResult stores the status of the last use. A token leaving status 200
// stops being eligible until externally revalidated.
func (p *Pool) RecordResult(ctx context.Context, t *Token, code int, message string) error {
	if t == nil {
		return nil
	}
	t.Status = code
	t.LastMessage = message
	return p.Store.SetStatus(ctx, t.UID, code, message)
}

// ByUID returns the token with the given uid, nil when unknown.
func (p *Pool) ByUID(ctx context.Context, uid string) (*Token, error) {
	if uid == "" {
		return nil, nil
	}
	return p.Store.ByUID(ctx, p.BackendName, uid)
}

// ForCredentials returns the token matching an entity's own stored secret,
// independent of its in-use state. Used to prefer "self" tokens when
// fetching one's own data.
func (p *Pool) ForCredentials(ctx context.Context, login, secret string) (*Token, error) {
	if login == "" || secret == "" {
		return nil, nil
	}
	return p.Store.ByCredentials(ctx, p.BackendName, login, secret)
}

// Manager caches one pool per backend name.
type Manager struct {
	Config *cfg.Config
	Logger log.Logger
	Store  Store

	mu    sync.Mutex
	pools map[string]*Pool
}

func NewManager(config *cfg.Config, logger log.Logger, store Store) (*Manager, error) {
	return &Manager{
		Config: config,
		Logger: logger,
		Store:  store,
		pools:  make(map[string]*Pool),
	}, nil
}

// For returns the pool for the given backend name, creating it on first use.
func (m *Manager) For(backendName string) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[backendName]; ok {
		return p
	}
	p, _ := NewPool(m.Config, m.Logger, backendName, m.Store)
	m.pools[backendName] = p
	return p
}
