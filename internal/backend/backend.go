// Package backend defines the capability-polymorphic adapter between core
// entities and one external provider. Concrete adapters translate entities
// into provider calls and map provider records back into attribute sets.
package backend

import (
	"context"
	"time"

	"github.com/reposhub/reposhub/internal/token"
)

// Capability names an optional backend operation. An adapter declares what
// it supports; the fetch orchestrator only expands relations the adapter
// supports.
const (
	CapUserFollowers          = "user_followers"
	CapUserFollowing          = "user_following"
	CapUserRepositories       = "user_repositories"
	CapUserCreatedDate        = "user_created_date"
	CapRepositoryOwner        = "repository_owner"
	CapRepositoryParentFork   = "repository_parent_fork"
	CapRepositoryFollowers    = "repository_followers"
	CapRepositoryContributors = "repository_contributors"
	CapRepositoryForks        = "repository_forks"
	CapRepositoryReadme       = "repository_readme"
	CapRepositoryCreatedDate  = "repository_created_date"
	CapRepositoryModifiedDate = "repository_modified_date"
)

// AccountData is the provider-neutral attribute set for an account.
type AccountData struct {
	Slug                      string
	Name                      string
	Homepage                  string
	AvatarURL                 string
	OfficialFollowersCount    int
	OfficialFollowingCount    int
	OfficialRepositoriesCount int
	OfficialCreated           time.Time
}

// RepoData is the provider-neutral attribute set for a repository.
type RepoData struct {
	Slug               string
	Owner              string
	Name               string
	Description        string
	Homepage           string
	DefaultBranch      string
	IsFork             bool
	ParentProject      string
	OfficialStarsCount int
	OfficialForksCount int
	OfficialWatchCount int
	OfficialCreated    time.Time
	OfficialModified   time.Time
}

// Project returns the canonical "owner/name" identifier of the repository.
func (d *RepoData) Project() string {
	if d.Owner == "" {
		return d.Slug
	}
	return d.Owner + "/" + d.Slug
}

// Backend is implemented once per provider. All operations take the token to
// authenticate with; a nil token means anonymous access where the provider
// allows it. Provider failures are reported as *Error values.
type Backend interface {
	Name() string
	Supports(capability string) bool

	// NeededRepositoryIdentifiers lists the fields this provider needs to
	// address a repository (e.g. slug alone, or slug plus owner).
	NeededRepositoryIdentifiers() []string

	UserFetch(ctx context.Context, slug string, tok *token.Token) (*AccountData, error)
	UserFollowers(ctx context.Context, slug string, tok *token.Token) ([]*AccountData, error)
	UserFollowing(ctx context.Context, slug string, tok *token.Token) ([]*AccountData, error)
	UserRepositories(ctx context.Context, slug string, tok *token.Token) ([]*RepoData, error)

	RepositoryFetch(ctx context.Context, project string, tok *token.Token) (*RepoData, error)
	RepositoryFollowers(ctx context.Context, project string, tok *token.Token) ([]*AccountData, error)
	RepositoryContributors(ctx context.Context, project string, tok *token.Token) ([]*AccountData, error)
	RepositoryReadme(ctx context.Context, project string, tok *token.Token) (string, error)
}
