package github

import (
	"time"

	"github.com/reposhub/reposhub/internal/backend"
)

// githubUser is the subset of the user payload the core needs.
type githubUser struct {
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	Blog        string    `json:"blog"`
	AvatarURL   string    `json:"avatar_url"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	PublicRepos int       `json:"public_repos"`
	CreatedAt   time.Time `json:"created_at"`
}

// githubRepo is the subset of the repository payload the core needs.
type githubRepo struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Homepage      string    `json:"homepage"`
	DefaultBranch string    `json:"default_branch"`
	Fork          bool      `json:"fork"`
	Stargazers    int       `json:"stargazers_count"`
	Forks         int       `json:"forks_count"`
	Watchers      int       `json:"watchers_count"`
	CreatedAt     time.Time `json:"created_at"`
	PushedAt      time.Time `json:"pushed_at"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
	Parent *struct {
		FullName string `json:"full_name"`
	} `json:"parent"`
}

func (u *githubUser) toData() *backend.AccountData {
	return &backend.AccountData{
		Slug:                      u.Login,
		Name:                      u.Name,
		Homepage:                  u.Blog,
		AvatarURL:                 u.AvatarURL,
		OfficialFollowersCount:    u.Followers,
		OfficialFollowingCount:    u.Following,
		OfficialRepositoriesCount: u.PublicRepos,
		OfficialCreated:           u.CreatedAt,
	}
}

func (r *githubRepo) toData() *backend.RepoData {
	data := &backend.RepoData{
		Slug:               r.Name,
		Owner:              r.Owner.Login,
		Name:               r.Name,
		Description:        r.Description,
		Homepage:           r.Homepage,
		DefaultBranch:      r.DefaultBranch,
		IsFork:             r.Fork,
		OfficialStarsCount: r.Stargazers,
		OfficialForksCount: r.Forks,
		OfficialWatchCount: r.Watchers,
		OfficialCreated:    r.CreatedAt,
		OfficialModified:   r.PushedAt,
	}
	if r.Parent != nil {
		data.ParentProject = r.Parent.FullName
	}
	return data
}
