package fetcher

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/backend"
	"github.com/reposhub/reposhub/internal/model"
	"github.com/reposhub/reposhub/internal/token"
	"github.com/reposhub/reposhub/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-process token.Store with the same compare-and-set
// locking behavior as the durable one.
type memStore struct {
	mu     sync.Mutex
	tokens map[string]*token.Token
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]*token.Token)}
}

func (s *memStore) Create(ctx context.Context, t *token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.UID = t.ComputeUID()
	cp := *t
	s.tokens[t.UID] = &cp
	return nil
}

func (s *memStore) Eligible(ctx context.Context, backendName string) ([]*token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*token.Token
	for _, t := range s.tokens {
		if t.Backend == backendName && t.Status == token.StatusOK && !t.InUse {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ByUID(ctx context.Context, backendName, uid string) (*token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[uid]
	if !ok || t.Backend != backendName {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ByCredentials(ctx context.Context, backendName, login, secret string) (*token.Token, error) {
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

func (s *memStore) TryLock(ctx context.Context, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[uid]
	if !ok || t.InUse {
		return false, nil
	}
	t.InUse = true
	return true, nil
}

func (s *memStore) Unlock(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[uid]; ok {
		t.InUse = false
	}
	return nil
}

func (s *memStore) SetStatus(ctx context.Context, uid string, code int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[uid]; ok {
		t.Status = code
		t.LastMessage = message
	}
	return nil
}

type fakeQueue struct {
	fetches []model.FetchMessage
	counts  []model.CountMessage
}

func (q *fakeQueue) EnqueueFetch(ctx context.Context, msg model.FetchMessage) error {
	q.fetches = append(q.fetches, msg)
	return nil
}

func (q *fakeQueue) EnqueueCount(ctx context.Context, msg model.CountMessage) error {
	q.counts = append(q.counts, msg)
	return nil
}

func (q *fakeQueue) fetchObjects() []string {
	out := make([]string, 0, len(q.fetches))
	for _, m := range q.fetches {
		out = append(out, m.Object)
	}
	return out
}

// fakeBackend only exists so the registry resolves; fakeEntity never calls
// through it.
type fakeBackend struct{}

func (b *fakeBackend) Name() string                          { return "github" }
func (b *fakeBackend) Supports(capability string) bool       { return true }
func (b *fakeBackend) NeededRepositoryIdentifiers() []string { return []string{"slug", "owner"} }
func (b *fakeBackend) UserFetch(ctx context.Context, slug string, tok *token.Token) (*backend.AccountData, error) {
	return nil, nil
}
func (b *fakeBackend) UserFollowers(ctx context.Context, slug string, tok *token.Token) ([]*backend.AccountData, error) {
	return nil, nil
}
func (b *fakeBackend) UserFollowing(ctx context.Context, slug string, tok *token.Token) ([]*backend.AccountData, error) {
	return nil, nil
}
func (b *fakeBackend) UserRepositories(ctx context.Context, slug string, tok *token.Token) ([]*backend.RepoData, error) {
	return nil, nil
}
func (b *fakeBackend) RepositoryFetch(ctx context.Context, project string, tok *token.Token) (*backend.RepoData, error) {
	return nil, nil
}
func (b *fakeBackend) RepositoryFollowers(ctx context.Context, project string, tok *token.Token) ([]*backend.AccountData, error) {
	return nil, nil
}
func (b *fakeBackend) RepositoryContributors(ctx context.Context, project string, tok *token.Token) ([]*backend.AccountData, error) {
	return nil, nil
}
func (b *fakeBackend) RepositoryReadme(ctx context.Context, project string, tok *token.Token) (string, error) {
	return "", nil
}

// fakeEntity is an in-memory Syncable with scripted relations.
type fakeEntity struct {
	ref         model.Ref
	status      string
	lastFetched time.Time
	fetchCalls  int
	fetchErr    error
	failCode    int
	relKinds    []string
	related     map[string][]model.Syncable
}

func newFakeEntity(kind model.Kind, id uint) *fakeEntity {
	return &fakeEntity{
		ref:    model.Ref{Kind: kind, ID: id},
		status: model.StatusCreating,
	}
}

func (e *fakeEntity) Ref() model.Ref                 { return e.ref }
func (e *fakeEntity) BackendName() string            { return "github" }
func (e *fakeEntity) SyncStatus() string             { return e.status }
func (e *fakeEntity) LastFetchedAt() time.Time       { return e.lastFetched }
func (e *fakeEntity) OwnCredentials() (string, string) { return "", "" }

func (e *fakeEntity) BeginFetch(ctx context.Context) error {
	if e.status == model.StatusUpdating {
		return model.ErrFetchInFlight
	}
	e.status = model.StatusUpdating
	return nil
}

func (e *fakeEntity) Fetch(ctx context.Context, bk backend.Backend, tok *token.Token) error {
	e.fetchCalls++
	if e.fetchErr != nil {
		return e.fetchErr
	}
	e.status = model.StatusOK
	e.lastFetched = time.Now()
	return nil
}

func (e *fakeEntity) FailFetch(ctx context.Context, code int, message string) error {
	e.failCode = code
	if e.lastFetched.IsZero() {
		e.status = model.StatusCreating
	} else {
		e.status = model.StatusOK
	}
	return nil
}

func (e *fakeEntity) RelatedKinds(bk backend.Backend) []string { return e.relKinds }

func (e *fakeEntity) FetchRelated(ctx context.Context, bk backend.Backend, kind string, tok *token.Token) ([]model.Syncable, error) {
	return e.related[kind], nil
}

func (e *fakeEntity) CountTypes() []string { return []string{model.RelFollowers} }

func (e *fakeEntity) UpdateCount(ctx context.Context, name string, useOfficial, persist bool) error {
	return nil
}

func (e *fakeEntity) UpdateScore(ctx context.Context, persist bool) error { return nil }

func newTestFetcher(t *testing.T) (*Fetcher, *fakeQueue, *memStore) {
	t.Helper()

	loader, _ := cfg.NewMockLoader()
	config, err := loader.Load()
	require.NoError(t, err)
	logger, _ := log.NewCslLogger()

	registry, err := backend.NewRegistry(&fakeBackend{})
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, store.Create(context.Background(), &token.Token{
		Backend: "github", Login: "bot", Secret: "s3cret", Status: token.StatusOK,
	}))
	pools, err := token.NewManager(config, logger, store)
	require.NoError(t, err)

	queue := &fakeQueue{}
	f, err := NewFetcher(config, logger, registry, pools, queue)
	require.NoError(t, err)
	return f, queue, store
}

func tokenInUse(t *testing.T, store *memStore) bool {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, tok := range store.tokens {
		if tok.InUse {
			return true
		}
	}
	return false
}

func TestFetchFullDepthZeroIsALeaf(t *testing.T) {
	f, queue, store := newTestFetcher(t)

	entity := newFakeEntity(model.KindAccount, 1)
	entity.relKinds = []string{model.RelFollowers}
	entity.related = map[string][]model.Syncable{
		model.RelFollowers: {newFakeEntity(model.KindAccount, 2)},
	}

	err := f.FetchFull(context.Background(), entity, "", 0, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, entity.fetchCalls)
	assert.Empty(t, queue.fetches, "depth 0 must not expand relations")
	assert.NotEmpty(t, queue.counts, "counts are still recomputed for the root")
	assert.False(t, tokenInUse(t, store), "token must be released")
}

func TestFetchFullExpandsAndEnqueuesChildrenAtDepthMinusOne(t *testing.T) {
	f, queue, _ := newTestFetcher(t)

	child1 := newFakeEntity(model.KindAccount, 2)
	child2 := newFakeEntity(model.KindRepository, 3)
	entity := newFakeEntity(model.KindAccount, 1)
	entity.relKinds = []string{model.RelFollowers, model.RelRepositories}
	entity.related = map[string][]model.Syncable{
		model.RelFollowers:    {child1},
		model.RelRepositories: {child2},
	}

	err := f.FetchFull(context.Background(), entity, "", 2, nil)
	require.NoError(t, err)

	require.Len(t, queue.fetches, 2)
	assert.ElementsMatch(t, []string{"account:2", "repository:3"}, queue.fetchObjects())
	for _, msg := range queue.fetches {
		assert.Equal(t, 1, msg.Depth)
		// The visited set carries the root and every sibling.
		assert.ElementsMatch(t, []string{"account:1", "account:2", "repository:3"}, msg.ToIgnore)
	}
}

func TestFetchFullSharedVisitedSetDeduplicatesSiblings(t *testing.T) {
	f, queue, _ := newTestFetcher(t)

	// B shows up in two listings of the same expansion step.
	b := newFakeEntity(model.KindAccount, 2)
	entity := newFakeEntity(model.KindAccount, 1)
	entity.relKinds = []string{model.RelFollowers, model.RelFollowing}
	entity.related = map[string][]model.Syncable{
		model.RelFollowers: {b},
		model.RelFollowing: {b, newFakeEntity(model.KindAccount, 3)},
	}

	err := f.FetchFull(context.Background(), entity, "", 2, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"account:2", "account:3"}, queue.fetchObjects())

	// Second traversal step: C's expansion re-discovers B, but B is already
	// in the visited set it inherited.
	queue.fetches = nil
	c := newFakeEntity(model.KindAccount, 3)
	c.relKinds = []string{model.RelFollowers}
	c.related = map[string][]model.Syncable{model.RelFollowers: {b}}

	err = f.FetchFull(context.Background(), c, "", 1,
		model.NewRefSet("account:1", "account:2", "account:3"))
	require.NoError(t, err)

	assert.Equal(t, 0, c.fetchCalls, "C inherited itself in the visited set")
	assert.Empty(t, queue.fetchObjects(), "B was already visited, nothing to enqueue")
	assert.Equal(t, 0, b.fetchCalls)
}

func TestFetchFullVisitedRootIsNotFetchedNorReEnqueued(t *testing.T) {
	f, queue, _ := newTestFetcher(t)

	entity := newFakeEntity(model.KindAccount, 1)
	entity.relKinds = []string{model.RelFollowers}
	entity.related = map[string][]model.Syncable{
		model.RelFollowers: {entity, newFakeEntity(model.KindAccount, 2)},
	}

	err := f.FetchFull(context.Background(), entity, "", 1, model.NewRefSet("account:1"))
	require.NoError(t, err)

	assert.Equal(t, 0, entity.fetchCalls, "already visited, no direct fetch")
	assert.Equal(t, []string{"account:2"}, queue.fetchObjects())
}

func TestFetchFullRootNotFoundStopsTraversal(t *testing.T) {
	f, queue, store := newTestFetcher(t)

	entity := newFakeEntity(model.KindAccount, 1)
	entity.fetchErr = backend.MakeError("github", http.StatusNotFound, "user bob", "")
	entity.relKinds = []string{model.RelFollowers}
	entity.related = map[string][]model.Syncable{
		model.RelFollowers: {newFakeEntity(model.KindAccount, 2)},
	}

	err := f.FetchFull(context.Background(), entity, "", 2, nil)
	require.NoError(t, err, "provider failures must not escape toward the worker loop")

	assert.True(t, entity.lastFetched.IsZero(), "a failed fetch never bumps last_fetched")
	assert.Equal(t, http.StatusNotFound, entity.failCode)
	assert.Equal(t, model.StatusCreating, entity.status)
	assert.Empty(t, queue.fetches)
	assert.False(t, tokenInUse(t, store), "token must be released on the error path")
}

func TestFetchFullUnauthorizedMarksToken(t *testing.T) {
	f, _, store := newTestFetcher(t)

	entity := newFakeEntity(model.KindAccount, 1)
	entity.fetchErr = backend.MakeError("github", http.StatusUnauthorized, "user bob", "")

	err := f.FetchFull(context.Background(), entity, "", 0, nil)
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, tok := range store.tokens {
		assert.Equal(t, http.StatusUnauthorized, tok.Status)
		assert.False(t, tok.InUse)
	}
}

func TestFetchFullFreshEntitySkipsDirectFetchButStillExpands(t *testing.T) {
	f, queue, _ := newTestFetcher(t)

	entity := newFakeEntity(model.KindAccount, 1)
	entity.status = model.StatusOK
	entity.lastFetched = time.Now()
	entity.relKinds = []string{model.RelFollowers}
	entity.related = map[string][]model.Syncable{
		model.RelFollowers: {newFakeEntity(model.KindAccount, 2)},
	}

	err := f.FetchFull(context.Background(), entity, "", 1, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, entity.fetchCalls)
	assert.Equal(t, []string{"account:2"}, queue.fetchObjects())
}

func TestFetchOneRejectsConcurrentFetch(t *testing.T) {
	f, _, _ := newTestFetcher(t)

	entity := newFakeEntity(model.KindAccount, 1)
	entity.status = model.StatusUpdating

	err := f.FetchOne(context.Background(), entity, nil)
	assert.ErrorIs(t, err, model.ErrFetchInFlight)
	assert.Equal(t, 0, entity.fetchCalls)
}

func TestFetchAllowed(t *testing.T) {
	f, _, _ := newTestFetcher(t)
	now := time.Now()

	fresh := newFakeEntity(model.KindAccount, 1)
	fresh.lastFetched = now.Add(-time.Minute)
	assert.False(t, f.FetchAllowed(fresh, now))

	stale := newFakeEntity(model.KindAccount, 2)
	stale.lastFetched = now.Add(-24 * time.Hour)
	assert.True(t, f.FetchAllowed(stale, now))

	never := newFakeEntity(model.KindAccount, 3)
	assert.True(t, f.FetchAllowed(never, now))

	updating := newFakeEntity(model.KindAccount, 4)
	updating.status = model.StatusUpdating
	assert.False(t, f.FetchAllowed(updating, now))
}
