package model

import (
	"context"
	"time"

	"github.com/reposhub/reposhub/internal/backend"
	"github.com/reposhub/reposhub/internal/token"
)

// Relation kinds the orchestrator can expand. Each maps to one backend
// capability per entity kind.
const (
	RelFollowers    = "followers"
	RelFollowing    = "following"
	RelRepositories = "repositories"
	RelOwner        = "owner"
	RelParentFork   = "parent_fork"
	RelContributors = "contributors"
	RelReadme       = "readme"

	// RelContributing is a count type only: the repositories an account
	// contributes to, counted through the reverse contributors relation.
	RelContributing = "contributing"
)

// Syncable is an entity the fetch pipeline can bring up to date: its own
// data through Fetch, and its graph neighborhood through FetchRelated.
// Account and Repo implement it.
type Syncable interface {
	Ref() Ref
	BackendName() string
	SyncStatus() string
	LastFetchedAt() time.Time

	// OwnCredentials returns the provider login/secret stored on the entity
	// itself, empty when none. Used to prefer "self" tokens.
	OwnCredentials() (login, secret string)

	// BeginFetch flips the entity to `updating`, failing with
	// ErrFetchInFlight when another fetch already holds it.
	BeginFetch(ctx context.Context) error

	// Fetch retrieves the entity's own data and persists it. Only the fetch
	// pipeline writes fetched fields.
	Fetch(ctx context.Context, bk backend.Backend, tok *token.Token) error

	// FailFetch restores the status after a failed Fetch and records the
	// provider status code. It never bumps last_fetched.
	FailFetch(ctx context.Context, code int, message string) error

	// RelatedKinds lists the relation kinds the backend supports for this
	// entity kind, in expansion order.
	RelatedKinds(bk backend.Backend) []string

	// FetchRelated retrieves one relation listing, persists the edges and
	// returns the related entities (creating unknown ones in `creating`
	// status).
	FetchRelated(ctx context.Context, bk backend.Backend, kind string, tok *token.Token) ([]Syncable, error)

	// CountTypes lists the derived counts of this entity kind.
	CountTypes() []string

	// UpdateCount recomputes one derived count, either trusting the official
	// provider figure or recounting stored relations.
	UpdateCount(ctx context.Context, name string, useOfficial, persist bool) error

	// UpdateScore recomputes the entity score from its counts.
	UpdateScore(ctx context.Context, persist bool) error
}

var (
	_ Syncable = (*Account)(nil)
	_ Syncable = (*Repo)(nil)
)
