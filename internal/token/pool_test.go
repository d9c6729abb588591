package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-process Store used to test pool semantics without a
// database. Locking mirrors the compare-and-set behavior of GormStore.
type memoryStore struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tokens: make(map[string]*Token)}
}

func (s *memoryStore) Create(ctx context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.UID = t.ComputeUID()
	cp := *t
	s.tokens[t.UID] = &cp
	return nil
}

func (s *memoryStore) Eligible(ctx context.Context, backendName string) ([]*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Token
	for _, t := range s.tokens {
		if t.Backend == backendName && t.Status == StatusOK && !t.InUse {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) ByUID(ctx context.Context, backendName, uid string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[uid]
	if !ok || t.Backend != backendName {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memoryStore) ByCredentials(ctx context.Context, backendName, login, secret string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Backend == backendName && t.Login == login && t.Secret == secret {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) TryLock(ctx context.Context, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[uid]
	if !ok || t.InUse {
		return false, nil
	}
	t.InUse = true
	t.LastUsed = time.Now()
	return true, nil
}

func (s *memoryStore) Unlock(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[uid]; ok {
		t.InUse = false
	}
	return nil
}

func (s *memoryStore) SetStatus(ctx context.Context, uid string, code int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[uid]; ok {
		t.Status = code
		t.LastMessage = message
		t.LastUsed = time.Now()
	}
	return nil
}

func newTestPool(t *testing.T, store Store) *Pool {
	t.Helper()
	loader, _ := cfg.NewMockLoader()
	config, err := loader.Load()
	require.NoError(t, err)
	logger, _ := log.NewCslLogger()
	pool, err := NewPool(config, logger, "github", store)
	require.NoError(t, err)
	pool.pollInterval = 10 * time.Millisecond
	return pool
}

func seed(t *testing.T, store Store, backend, login, secret string) *Token {
	t.Helper()
	tok := &Token{Backend: backend, Login: login, Secret: secret, Status: StatusOK}
	require.NoError(t, store.Create(context.Background(), tok))
	return tok
}

func TestAcquireMarksInUseAndSkipsBadStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	pool := newTestPool(t, store)

	good := seed(t, store, "github", "alice", "s1")
	bad := seed(t, store, "github", "bob", "s2")
	require.NoError(t, store.SetStatus(ctx, bad.UID, 401, "unauthorized"))

	for i := 0; i < 5; i++ {
		got, err := pool.Acquire(ctx, nil, false)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, good.UID, got.UID)
		assert.True(t, got.InUse)
		assert.Equal(t, StatusOK, got.Status)
		require.NoError(t, pool.Release(ctx, got))
	}
}

func TestAcquireReleaseRestoresAvailability(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	pool := newTestPool(t, store)
	seed(t, store, "github", "alice", "s1")

	got, err := pool.Acquire(ctx, nil, false)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Pool is now exhausted
	none, err := pool.Acquire(ctx, nil, false)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, pool.Release(ctx, got))

	again, err := pool.Acquire(ctx, nil, false)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, got.UID, again.UID)
}

func TestAcquireWaitBlocksUntilRelease(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	pool := newTestPool(t, store)
	seed(t, store, "github", "alice", "s1")

	held, err := pool.Acquire(ctx, nil, false)
	require.NoError(t, err)
	require.NotNil(t, held)

	acquired := make(chan *Token, 1)
	go func() {
		got, err := pool.Acquire(ctx, nil, true)
		assert.NoError(t, err)
		acquired <- got
	}()

	select {
	case <-acquired:
		t.Fatal("acquire returned while the only token was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, pool.Release(ctx, held))

	select {
	case got := <-acquired:
		require.NotNil(t, got)
		assert.Equal(t, held.UID, got.UID)
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after release")
	}
}

func TestAcquireWaitHonorsContextCancel(t *testing.T) {
	store := newMemoryStore()
	pool := newTestPool(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	got, err := pool.Acquire(ctx, nil, true)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquirePrefersGivenToken(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	pool := newTestPool(t, store)

	seed(t, store, "github", "alice", "s1")
	preferred := seed(t, store, "github", "bob", "s2")

	got, err := pool.Acquire(ctx, preferred, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, preferred.UID, got.UID)
}

func TestAcquireIgnoresPreferredWithBadStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	pool := newTestPool(t, store)

	other := seed(t, store, "github", "alice", "s1")
	preferred := seed(t, store, "github", "bob", "s2")
	require.NoError(t, store.SetStatus(ctx, preferred.UID, 403, "forbidden"))

	got, err := pool.Acquire(ctx, preferred, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, other.UID, got.UID)
}

func TestRecordResultMakesTokenIneligible(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	pool := newTestPool(t, store)
	seed(t, store, "github", "alice", "s1")

	got, err := pool.Acquire(ctx, nil, false)
	require.NoError(t, err)
	require.NoError(t, pool.RecordResult(ctx, got, 401, "bad credentials"))
	require.NoError(t, pool.Release(ctx, got))

	none, err := pool.Acquire(ctx, nil, false)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestForCredentialsIgnoresInUse(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	pool := newTestPool(t, store)
	seed(t, store, "github", "alice", "s1")

	held, err := pool.Acquire(ctx, nil, false)
	require.NoError(t, err)
	require.NotNil(t, held)

	found, err := pool.ForCredentials(ctx, "alice", "s1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, held.UID, found.UID)
}

func TestManagerReturnsSamePoolPerBackend(t *testing.T) {
	store := newMemoryStore()
	loader, _ := cfg.NewMockLoader()
	config, _ := loader.Load()
	logger, _ := log.NewCslLogger()

	m, err := NewManager(config, logger, store)
	require.NoError(t, err)

	a := m.For("github")
	b := m.For("github")
	c := m.For("gitlab")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
