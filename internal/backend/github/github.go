package github

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/backend"
	"github.com/reposhub/reposhub/internal/token"
	"github.com/reposhub/reposhub/pkg/log"
)

// Name is the backend name entities reference in their `backend` field.
const Name = "github"

var support = map[string]bool{
	backend.CapUserFollowers:          true,
	backend.CapUserFollowing:          true,
	backend.CapUserRepositories:       true,
	backend.CapUserCreatedDate:        true,
	backend.CapRepositoryOwner:        true,
	backend.CapRepositoryParentFork:   true,
	backend.CapRepositoryFollowers:    true,
	backend.CapRepositoryContributors: true,
	backend.CapRepositoryReadme:       true,
	backend.CapRepositoryCreatedDate:  true,
	backend.CapRepositoryModifiedDate: true,
}

type GithubBackend struct {
	Logger log.Logger
	Config *cfg.Config
	caller *Caller
}

func NewBackend(config *cfg.Config, logger log.Logger) (*GithubBackend, error) {
	return &GithubBackend{
		Logger: logger,
		Config: config,
		caller: NewCaller(logger, config),
	}, nil
}

func (b *GithubBackend) Name() string {
	return Name
}

func (b *GithubBackend) Supports(capability string) bool {
	return support[capability]
}

// NeededRepositoryIdentifiers: a repository on GitHub is addressed by its
// slug and its owner.
func (b *GithubBackend) NeededRepositoryIdentifiers() []string {
	return []string{"slug", "owner"}
}

func (b *GithubBackend) UserFetch(ctx context.Context, slug string, tok *token.Token) (*backend.AccountData, error) {
	var user githubUser
	what := fmt.Sprintf("user %s", slug)
	if err := b.caller.Get(ctx, "/users/"+slug, what, tok, &user); err != nil {
		return nil, err
	}
	return user.toData(), nil
}

func (b *GithubBackend) UserFollowers(ctx context.Context, slug string, tok *token.Token) ([]*backend.AccountData, error) {
	return b.listUsers(ctx, fmt.Sprintf("/users/%s/followers", slug), fmt.Sprintf("followers of %s", slug), tok)
}

func (b *GithubBackend) UserFollowing(ctx context.Context, slug string, tok *token.Token) ([]*backend.AccountData, error) {
	return b.listUsers(ctx, fmt.Sprintf("/users/%s/following", slug), fmt.Sprintf("following of %s", slug), tok)
}

func (b *GithubBackend) UserRepositories(ctx context.Context, slug string, tok *token.Token) ([]*backend.RepoData, error) {
	var out []*backend.RepoData
	what := fmt.Sprintf("repositories of %s", slug)
	err := b.caller.GetPaged(ctx, fmt.Sprintf("/users/%s/repos", slug), what, tok, func(body []byte) (int, error) {
		var page []githubRepo
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for i := range page {
			out = append(out, page[i].toData())
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *GithubBackend) RepositoryFetch(ctx context.Context, project string, tok *token.Token) (*backend.RepoData, error) {
	var repo githubRepo
	what := fmt.Sprintf("repository %s", project)
	if err := b.caller.Get(ctx, "/repos/"+project, what, tok, &repo); err != nil {
		return nil, err
	}
	return repo.toData(), nil
}

// RepositoryFollowers lists the stargazers, GitHub's equivalent of accounts
// following a repository.
func (b *GithubBackend) RepositoryFollowers(ctx context.Context, project string, tok *token.Token) ([]*backend.AccountData, error) {
	return b.listUsers(ctx, fmt.Sprintf("/repos/%s/stargazers", project), fmt.Sprintf("followers of %s", project), tok)
}

func (b *GithubBackend) RepositoryContributors(ctx context.Context, project string, tok *token.Token) ([]*backend.AccountData, error) {
	return b.listUsers(ctx, fmt.Sprintf("/repos/%s/contributors", project), fmt.Sprintf("contributors of %s", project), tok)
}

func (b *GithubBackend) RepositoryReadme(ctx context.Context, project string, tok *token.Token) (string, error) {
	what := fmt.Sprintf("readme of %s", project)
	return b.caller.GetRawText(ctx, fmt.Sprintf("/repos/%s/readme", project), what, tok)
}

func (b *GithubBackend) listUsers(ctx context.Context, path, what string, tok *token.Token) ([]*backend.AccountData, error) {
	var out []*backend.AccountData
	err := b.caller.GetPaged(ctx, path, what, tok, func(body []byte) (int, error) {
		var page []githubUser
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for i := range page {
			out = append(out, page[i].toData())
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
