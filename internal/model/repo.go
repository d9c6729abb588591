package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/backend"
	"github.com/reposhub/reposhub/internal/token"
	"github.com/reposhub/reposhub/pkg/db"
	"github.com/reposhub/reposhub/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo mirrors a provider repository, identified by (backend, project) with
// project in "owner/name" form. Followers are the stargazers of the project.
type Repo struct {
	Model
	Backend       string     `json:"backend" gorm:"column:backend;type:varchar(30);not null;uniqueIndex:idx_repositories_backend_project"`
	Project       string     `json:"project" gorm:"column:project;type:varchar(255);not null;uniqueIndex:idx_repositories_backend_project"`
	Slug          string     `json:"slug" gorm:"column:slug;type:varchar(255);not null"`
	Name          string     `json:"name" gorm:"column:name;type:varchar(255)"`
	Description   string     `json:"description" gorm:"column:description;type:text"`
	Homepage      string     `json:"homepage" gorm:"column:homepage;type:varchar(255)"`
	DefaultBranch string     `json:"default_branch" gorm:"column:default_branch;type:varchar(255)"`
	Readme        string     `json:"-" gorm:"column:readme;type:longtext"`
	IsFork        bool       `json:"is_fork" gorm:"column:is_fork;default:false"`
	ParentProject string     `json:"parent_project" gorm:"column:parent_project;type:varchar(255)"`
	Status        string     `json:"status" gorm:"column:status;type:varchar(15);default:creating;index"`
	LastFetched   *time.Time `json:"last_fetched" gorm:"column:last_fetched;index"`

	OwnerID      *uint    `json:"owner_id" gorm:"column:owner_id;index"`
	Owner        *Account `json:"-" gorm:"foreignKey:OwnerID"`
	ParentForkID *uint    `json:"parent_fork_id" gorm:"column:parent_fork_id;index"`
	ParentFork   *Repo    `json:"-" gorm:"foreignKey:ParentForkID"`

	OfficialFollowersCount int        `json:"official_followers_count" gorm:"column:official_followers_count;default:0"`
	OfficialForksCount     int        `json:"official_forks_count" gorm:"column:official_forks_count;default:0"`
	OfficialWatchCount     int        `json:"official_watch_count" gorm:"column:official_watch_count;default:0"`
	OfficialCreated        *time.Time `json:"official_created" gorm:"column:official_created"`
	OfficialModified       *time.Time `json:"official_modified" gorm:"column:official_modified"`

	FollowersCount    int `json:"followers_count" gorm:"column:followers_count;default:0"`
	ContributorsCount int `json:"contributors_count" gorm:"column:contributors_count;default:0"`
	Score             int `json:"score" gorm:"column:score;default:0;index"`

	BackendLastStatus  int    `json:"backend_last_status" gorm:"column:backend_last_status;default:200"`
	BackendSameStatus  int    `json:"backend_same_status" gorm:"column:backend_same_status;default:0"`
	BackendLastMessage string `json:"backend_last_message" gorm:"column:backend_last_message;type:text"`

	Followers    []*Account `json:"-" gorm:"many2many:repository_followers;joinForeignKey:repository_id;joinReferences:account_id"`
	Contributors []*Account `json:"-" gorm:"many2many:repository_contributors;joinForeignKey:repository_id;joinReferences:account_id"`
}

func NewRepo(config *cfg.Config, logger log.Logger, mysql *db.Mysql) (*Repo, error) {
	repo := &Repo{
		Model: Model{
			Config: config,
			Logger: logger,
			Mysql:  mysql,
		},
	}
	return repo, nil
}

func (r *Repo) TableName() string {
	return "repositories"
}

func (r *Repo) Ref() Ref {
	return Ref{Kind: KindRepository, ID: r.ID}
}

func (r *Repo) BackendName() string {
	return r.Backend
}

func (r *Repo) SyncStatus() string {
	return r.Status
}

func (r *Repo) LastFetchedAt() time.Time {
	if r.LastFetched == nil {
		return time.Time{}
	}
	return *r.LastFetched
}

func (r *Repo) OwnCredentials() (string, string) {
	return "", ""
}

// OwnerSlug is the owner part of the project identifier.
func (r *Repo) OwnerSlug() string {
	if i := strings.Index(r.Project, "/"); i > 0 {
		return r.Project[:i]
	}
	return ""
}

// ByID loads a repository row.
func (r *Repo) ByID(ctx context.Context, id uint) (*Repo, error) {
	gdb, err := r.Mysql.Db()
	if err != nil {
		return nil, err
	}

	repo := &Repo{}
	if err := gdb.WithContext(ctx).First(repo, id).Error; err != nil {
		return nil, err
	}
	repo.inject(r.Config, r.Logger, r.Mysql)
	return repo, nil
}

// GetOrCreate returns the repository for (backend, project), creating it in
// `creating` status when unknown.
func (r *Repo) GetOrCreate(ctx context.Context, backendName, project string, data *backend.RepoData) (*Repo, error) {
	gdb, err := r.Mysql.Db()
	if err != nil {
		return nil, err
	}

	project = TruncateString(project, 250)

	repo := &Repo{}
	err = gdb.WithContext(ctx).Where("backend = ? AND project = ?", backendName, project).First(repo).Error
	if err == nil {
		repo.inject(r.Config, r.Logger, r.Mysql)
		return repo, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	slug := project
	if i := strings.Index(project, "/"); i >= 0 {
		slug = project[i+1:]
	}

	repo = &Repo{
		Backend:           backendName,
		Project:           project,
		Slug:              TruncateString(slug, 250),
		Status:            StatusCreating,
		BackendLastStatus: 200,
	}
	if data != nil {
		repo.Name = TruncateString(data.Name, 250)
		repo.Description = data.Description
		repo.Homepage = TruncateString(data.Homepage, 250)
		repo.DefaultBranch = TruncateString(data.DefaultBranch, 250)
		repo.IsFork = data.IsFork
		repo.ParentProject = TruncateString(data.ParentProject, 250)
		repo.OfficialFollowersCount = data.OfficialStarsCount
		repo.OfficialForksCount = data.OfficialForksCount
		repo.OfficialWatchCount = data.OfficialWatchCount
		if !data.OfficialCreated.IsZero() {
			created := data.OfficialCreated
			repo.OfficialCreated = &created
		}
		if !data.OfficialModified.IsZero() {
			modified := data.OfficialModified
			repo.OfficialModified = &modified
		}
	}

	if err := gdb.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(repo).Error; err != nil {
		return nil, err
	}
	if repo.ID == 0 {
		if err := gdb.WithContext(ctx).Where("backend = ? AND project = ?", backendName, project).First(repo).Error; err != nil {
			return nil, err
		}
	}

	repo.inject(r.Config, r.Logger, r.Mysql)
	return repo, nil
}

// SetOwner links the repository to its owner account.
func (r *Repo) SetOwner(ctx context.Context, owner *Account) error {
	gdb, err := r.Mysql.Db()
	if err != nil {
		return err
	}
	if err := gdb.WithContext(ctx).Model(&Repo{}).Where("id = ?", r.ID).Update("owner_id", owner.ID).Error; err != nil {
		return err
	}
	ownerID := owner.ID
	r.OwnerID = &ownerID
	return nil
}

func (r *Repo) BeginFetch(ctx context.Context) error {
	gdb, err := r.Mysql.Db()
	if err != nil {
		return err
	}

	res := gdb.WithContext(ctx).Model(&Repo{}).
		Where("id = ? AND status <> ?", r.ID, StatusUpdating).
		Update("status", StatusUpdating)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFetchInFlight
	}
	r.Status = StatusUpdating
	return nil
}

func (r *Repo) Fetch(ctx context.Context, bk backend.Backend, tok *token.Token) error {
	data, err := bk.RepositoryFetch(ctx, r.Project, tok)
	if err != nil {
		return err
	}
	return r.ApplyFetched(ctx, data)
}

// ApplyFetched merges provider data onto the repository and marks the fetch
// successful.
func (r *Repo) ApplyFetched(ctx context.Context, data *backend.RepoData) error {
	gdb, err := r.Mysql.Db()
	if err != nil {
		return err
	}

	now := time.Now()
	sameStatus := 1
	if r.BackendLastStatus == 200 {
		sameStatus = r.BackendSameStatus + 1
	}

	fields := map[string]interface{}{
		"slug":                     TruncateString(data.Slug, 250),
		"name":                     TruncateString(data.Name, 250),
		"description":              data.Description,
		"homepage":                 TruncateString(data.Homepage, 250),
		"default_branch":           TruncateString(data.DefaultBranch, 250),
		"is_fork":                  data.IsFork,
		"parent_project":           TruncateString(data.ParentProject, 250),
		"official_followers_count": data.OfficialStarsCount,
		"official_forks_count":     data.OfficialForksCount,
		"official_watch_count":     data.OfficialWatchCount,
		"status":                   StatusOK,
		"last_fetched":             now,
		"backend_last_status":      200,
		"backend_same_status":      sameStatus,
		"backend_last_message":     "ok",
	}
	if !data.OfficialCreated.IsZero() {
		fields["official_created"] = data.OfficialCreated
	}
	if !data.OfficialModified.IsZero() {
		fields["official_modified"] = data.OfficialModified
	}

	if err := gdb.WithContext(ctx).Model(&Repo{}).Where("id = ?", r.ID).Updates(fields).Error; err != nil {
		return err
	}

	r.Slug = TruncateString(data.Slug, 250)
	r.Name = TruncateString(data.Name, 250)
	r.Description = data.Description
	r.Homepage = TruncateString(data.Homepage, 250)
	r.DefaultBranch = TruncateString(data.DefaultBranch, 250)
	r.IsFork = data.IsFork
	r.ParentProject = TruncateString(data.ParentProject, 250)
	r.OfficialFollowersCount = data.OfficialStarsCount
	r.OfficialForksCount = data.OfficialForksCount
	r.OfficialWatchCount = data.OfficialWatchCount
	if !data.OfficialCreated.IsZero() {
		created := data.OfficialCreated
		r.OfficialCreated = &created
	}
	if !data.OfficialModified.IsZero() {
		modified := data.OfficialModified
		r.OfficialModified = &modified
	}
	r.Status = StatusOK
	r.LastFetched = &now
	r.BackendLastStatus = 200
	r.BackendSameStatus = sameStatus
	r.BackendLastMessage = "ok"
	return nil
}

func (r *Repo) FailFetch(ctx context.Context, code int, message string) error {
	gdb, err := r.Mysql.Db()
	if err != nil {
		return err
	}

	status := StatusCreating
	if r.LastFetched != nil {
		status = StatusOK
	}

	sameStatus := 1
	if code == r.BackendLastStatus {
		sameStatus = r.BackendSameStatus + 1
	}

	fields := map[string]interface{}{
		"status":               status,
		"backend_last_status":  code,
		"backend_same_status":  sameStatus,
		"backend_last_message": message,
	}
	if err := gdb.WithContext(ctx).Model(&Repo{}).Where("id = ?", r.ID).Updates(fields).Error; err != nil {
		return err
	}

	r.Status = status
	r.BackendLastStatus = code
	r.BackendSameStatus = sameStatus
	r.BackendLastMessage = message
	return nil
}

func (r *Repo) UpdateFields(ctx context.Context, fields map[string]interface{}) error {
	gdb, err := r.Mysql.Db()
	if err != nil {
		return err
	}

	res := gdb.WithContext(ctx).Model(&Repo{}).
		Where("id = ? AND status <> ?", r.ID, StatusUpdating).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFetchInFlight
	}
	return nil
}

func (r *Repo) RelatedKinds(bk backend.Backend) []string {
	kinds := make([]string, 0, 5)
	if bk.Supports(backend.CapRepositoryOwner) {
		kinds = append(kinds, RelOwner)
	}
	if bk.Supports(backend.CapRepositoryParentFork) {
		kinds = append(kinds, RelParentFork)
	}
	if bk.Supports(backend.CapRepositoryFollowers) {
		kinds = append(kinds, RelFollowers)
	}
	if bk.Supports(backend.CapRepositoryContributors) {
		kinds = append(kinds, RelContributors)
	}
	if bk.Supports(backend.CapRepositoryReadme) {
		kinds = append(kinds, RelReadme)
	}
	return kinds
}

func (r *Repo) FetchRelated(ctx context.Context, bk backend.Backend, kind string, tok *token.Token) ([]Syncable, error) {
	switch kind {
	case RelOwner:
		ownerSlug := r.OwnerSlug()
		if ownerSlug == "" {
			return nil, nil
		}
		accountMd, _ := NewAccount(r.Config, r.Logger, r.Mysql)
		owner, err := accountMd.GetOrCreate(ctx, r.Backend, ownerSlug, nil)
		if err != nil {
			return nil, err
		}
		if r.OwnerID == nil || *r.OwnerID != owner.ID {
			if err := r.SetOwner(ctx, owner); err != nil {
				return nil, err
			}
		}
		return []Syncable{owner}, nil

	case RelParentFork:
		if r.ParentProject == "" {
			return nil, nil
		}
		parent, err := r.GetOrCreate(ctx, r.Backend, r.ParentProject, nil)
		if err != nil {
			return nil, err
		}
		if r.ParentForkID == nil || *r.ParentForkID != parent.ID {
			gdb, err := r.Mysql.Db()
			if err != nil {
				return nil, err
			}
			if err := gdb.WithContext(ctx).Model(&Repo{}).Where("id = ?", r.ID).Update("parent_fork_id", parent.ID).Error; err != nil {
				return nil, err
			}
			parentID := parent.ID
			r.ParentForkID = &parentID
		}
		return []Syncable{parent}, nil

	case RelFollowers:
		list, err := bk.RepositoryFollowers(ctx, r.Project, tok)
		if err != nil {
			return nil, err
		}
		return r.replaceAccountEdges(ctx, "Followers", list)

	case RelContributors:
		list, err := bk.RepositoryContributors(ctx, r.Project, tok)
		if err != nil {
			return nil, err
		}
		return r.replaceAccountEdges(ctx, "Contributors", list)

	case RelReadme:
		text, err := bk.RepositoryReadme(ctx, r.Project, tok)
		if err != nil {
			return nil, err
		}
		gdb, err := r.Mysql.Db()
		if err != nil {
			return nil, err
		}
		if err := gdb.WithContext(ctx).Model(&Repo{}).Where("id = ?", r.ID).Update("readme", text).Error; err != nil {
			return nil, err
		}
		r.Readme = text
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown relation kind %q for repository", kind)
	}
}

func (r *Repo) replaceAccountEdges(ctx context.Context, association string, list []*backend.AccountData) ([]Syncable, error) {
	gdb, err := r.Mysql.Db()
	if err != nil {
		return nil, err
	}

	accountMd, _ := NewAccount(r.Config, r.Logger, r.Mysql)
	accounts := make([]*Account, 0, len(list))
	out := make([]Syncable, 0, len(list))
	for _, data := range list {
		account, err := accountMd.GetOrCreate(ctx, r.Backend, data.Slug, data)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
		out = append(out, account)
	}

	if err := gdb.WithContext(ctx).Model(r).Association(association).Replace(accounts); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CountTypes() []string {
	return []string{RelFollowers, RelContributors}
}

func (r *Repo) UpdateCount(ctx context.Context, name string, useOfficial, persist bool) error {
	gdb, err := r.Mysql.Db()
	if err != nil {
		return err
	}

	var count int64
	var field string

	switch name {
	case RelFollowers:
		field = "followers_count"
		if useOfficial {
			count = int64(r.OfficialFollowersCount)
		} else {
			count = gdb.WithContext(ctx).Model(r).Association("Followers").Count()
		}
	case RelContributors:
		// No official figure exists for contributors, always recount.
		field = "contributors_count"
		count = gdb.WithContext(ctx).Model(r).Association("Contributors").Count()
	default:
		return fmt.Errorf("unknown count type %q for repository", name)
	}

	if persist {
		if err := gdb.WithContext(ctx).Model(&Repo{}).Where("id = ?", r.ID).Update(field, count).Error; err != nil {
			return err
		}
	}

	switch name {
	case RelFollowers:
		r.FollowersCount = int(count)
	case RelContributors:
		r.ContributorsCount = int(count)
	}
	return nil
}

// UpdateScore recomputes the repository score from its counts and metadata.
func (r *Repo) UpdateScore(ctx context.Context, persist bool) error {
	parts := map[string]float64{}
	divider := 0.0

	infos := 0.0
	if r.Description != "" {
		infos += 0.3
	}
	if r.Homepage != "" {
		infos += 0.3
	}
	if r.Readme != "" {
		infos += 0.3
	}
	parts["infos"] = infos

	divider += 1
	parts["followers"] = scorePart(float64(r.OfficialFollowersCount))

	divider += 0.5
	parts["forks"] = scorePart(float64(r.OfficialForksCount))

	if r.ContributorsCount > 0 {
		divider += 0.5
		parts["contributors"] = scorePart(float64(r.ContributorsCount))
	}

	if r.OfficialCreated != nil {
		divider += 0.5
		days := time.Since(*r.OfficialCreated).Hours() / 24
		parts["life_time"] = scorePart(days / 90.0)
	}
	if r.OfficialModified != nil {
		divider += 0.5
		days := time.Since(*r.OfficialModified).Hours() / 24
		// Recent activity scores high, staleness decays toward zero.
		parts["activity"] = scorePart(365.0 / (days + 30.0))
	}

	r.Score = finalScore(parts, divider)

	if persist {
		gdb, err := r.Mysql.Db()
		if err != nil {
			return err
		}
		return gdb.WithContext(ctx).Model(&Repo{}).Where("id = ?", r.ID).Update("score", r.Score).Error
	}
	return nil
}
