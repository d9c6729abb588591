package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/backend"
	"github.com/reposhub/reposhub/internal/token"
	"github.com/reposhub/reposhub/pkg/db"
	"github.com/reposhub/reposhub/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Account mirrors a provider account. Fetched fields are written only by
// the fetch pipeline; relationship edges are replaced wholesale on each
// relation fetch so removals on the provider side propagate.
type Account struct {
	Model
	Backend     string     `json:"backend" gorm:"column:backend;type:varchar(30);not null;uniqueIndex:idx_accounts_backend_slug"`
	Slug        string     `json:"slug" gorm:"column:slug;type:varchar(255);not null;uniqueIndex:idx_accounts_backend_slug"`
	Name        string     `json:"name" gorm:"column:name;type:varchar(255)"`
	Homepage    string     `json:"homepage" gorm:"column:homepage;type:varchar(255)"`
	AvatarURL   string     `json:"avatar_url" gorm:"column:avatar_url;type:varchar(255)"`
	AccessToken string     `json:"-" gorm:"column:access_token;type:varchar(255)"`
	Status      string     `json:"status" gorm:"column:status;type:varchar(15);default:creating;index"`
	LastFetched *time.Time `json:"last_fetched" gorm:"column:last_fetched;index"`

	OfficialFollowersCount    int        `json:"official_followers_count" gorm:"column:official_followers_count;default:0"`
	OfficialFollowingCount    int        `json:"official_following_count" gorm:"column:official_following_count;default:0"`
	OfficialRepositoriesCount int        `json:"official_repositories_count" gorm:"column:official_repositories_count;default:0"`
	OfficialCreated           *time.Time `json:"official_created" gorm:"column:official_created"`

	FollowersCount     int `json:"followers_count" gorm:"column:followers_count;default:0"`
	FollowingCount     int `json:"following_count" gorm:"column:following_count;default:0"`
	RepositoriesCount  int `json:"repositories_count" gorm:"column:repositories_count;default:0"`
	ContributionsCount int `json:"contributions_count" gorm:"column:contributions_count;default:0"`
	Score              int `json:"score" gorm:"column:score;default:0;index"`

	BackendLastStatus  int    `json:"backend_last_status" gorm:"column:backend_last_status;default:200"`
	BackendSameStatus  int    `json:"backend_same_status" gorm:"column:backend_same_status;default:0"`
	BackendLastMessage string `json:"backend_last_message" gorm:"column:backend_last_message;type:text"`

	Followers    []*Account `json:"-" gorm:"many2many:account_followers;joinForeignKey:account_id;joinReferences:follower_id"`
	Following    []*Account `json:"-" gorm:"many2many:account_following;joinForeignKey:account_id;joinReferences:following_id"`
	Repositories []*Repo    `json:"-" gorm:"foreignKey:OwnerID"`
}

func NewAccount(config *cfg.Config, logger log.Logger, mysql *db.Mysql) (*Account, error) {
	account := &Account{
		Model: Model{
			Config: config,
			Logger: logger,
			Mysql:  mysql,
		},
	}
	return account, nil
}

func (a *Account) TableName() string {
	return "accounts"
}

func (a *Account) Ref() Ref {
	return Ref{Kind: KindAccount, ID: a.ID}
}

func (a *Account) BackendName() string {
	return a.Backend
}

func (a *Account) SyncStatus() string {
	return a.Status
}

func (a *Account) LastFetchedAt() time.Time {
	if a.LastFetched == nil {
		return time.Time{}
	}
	return *a.LastFetched
}

func (a *Account) OwnCredentials() (string, string) {
	return a.Slug, a.AccessToken
}

// ByID loads an account row.
func (a *Account) ByID(ctx context.Context, id uint) (*Account, error) {
	gdb, err := a.Mysql.Db()
	if err != nil {
		return nil, err
	}

	account := &Account{}
	if err := gdb.WithContext(ctx).First(account, id).Error; err != nil {
		return nil, err
	}
	account.inject(a.Config, a.Logger, a.Mysql)
	return account, nil
}

// GetOrCreate returns the account for (backend, slug), creating it in
// `creating` status when unknown. data, when given, seeds the official
// fields of a newly created row; it never overwrites an existing one.
func (a *Account) GetOrCreate(ctx context.Context, backendName, slug string, data *backend.AccountData) (*Account, error) {
	gdb, err := a.Mysql.Db()
	if err != nil {
		return nil, err
	}

	slug = TruncateString(slug, 250)

	account := &Account{}
	err = gdb.WithContext(ctx).Where("backend = ? AND slug = ?", backendName, slug).First(account).Error
	if err == nil {
		account.inject(a.Config, a.Logger, a.Mysql)
		return account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	account = &Account{
		Backend:           backendName,
		Slug:              slug,
		Status:            StatusCreating,
		BackendLastStatus: 200,
	}
	if data != nil {
		account.Name = TruncateString(data.Name, 250)
		account.Homepage = TruncateString(data.Homepage, 250)
		account.AvatarURL = TruncateString(data.AvatarURL, 250)
		account.OfficialFollowersCount = data.OfficialFollowersCount
		account.OfficialFollowingCount = data.OfficialFollowingCount
		account.OfficialRepositoriesCount = data.OfficialRepositoriesCount
		if !data.OfficialCreated.IsZero() {
			created := data.OfficialCreated
			account.OfficialCreated = &created
		}
	}

	// Another worker may create the same row concurrently; fall back to the
	// winner in that case.
	if err := gdb.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(account).Error; err != nil {
		return nil, err
	}
	if account.ID == 0 {
		if err := gdb.WithContext(ctx).Where("backend = ? AND slug = ?", backendName, slug).First(account).Error; err != nil {
			return nil, err
		}
	}

	account.inject(a.Config, a.Logger, a.Mysql)
	return account, nil
}

// BeginFetch flips the account to `updating`. The compare-and-set keeps two
// concurrent fetches from interleaving on the same row.
func (a *Account) BeginFetch(ctx context.Context) error {
	gdb, err := a.Mysql.Db()
	if err != nil {
		return err
	}

	res := gdb.WithContext(ctx).Model(&Account{}).
		Where("id = ? AND status <> ?", a.ID, StatusUpdating).
		Update("status", StatusUpdating)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFetchInFlight
	}
	a.Status = StatusUpdating
	return nil
}

func (a *Account) Fetch(ctx context.Context, bk backend.Backend, tok *token.Token) error {
	data, err := bk.UserFetch(ctx, a.Slug, tok)
	if err != nil {
		return err
	}
	return a.ApplyFetched(ctx, data)
}

// ApplyFetched merges provider data onto the account and marks the fetch
// successful. It is the only write path for fetched fields.
func (a *Account) ApplyFetched(ctx context.Context, data *backend.AccountData) error {
	gdb, err := a.Mysql.Db()
	if err != nil {
		return err
	}

	now := time.Now()
	sameStatus := 1
	if a.BackendLastStatus == 200 {
		sameStatus = a.BackendSameStatus + 1
	}

	fields := map[string]interface{}{
		"name":                        TruncateString(data.Name, 250),
		"homepage":                    TruncateString(data.Homepage, 250),
		"avatar_url":                  TruncateString(data.AvatarURL, 250),
		"official_followers_count":    data.OfficialFollowersCount,
		"official_following_count":    data.OfficialFollowingCount,
		"official_repositories_count": data.OfficialRepositoriesCount,
		"status":                      StatusOK,
		"last_fetched":                now,
		"backend_last_status":         200,
		"backend_same_status":         sameStatus,
		"backend_last_message":        "ok",
	}
	if !data.OfficialCreated.IsZero() {
		fields["official_created"] = data.OfficialCreated
	}

	if err := gdb.WithContext(ctx).Model(&Account{}).Where("id = ?", a.ID).Updates(fields).Error; err != nil {
		return err
	}

	a.Name = TruncateString(data.Name, 250)
	a.Homepage = TruncateString(data.Homepage, 250)
	a.AvatarURL = TruncateString(data.AvatarURL, 250)
	a.OfficialFollowersCount = data.OfficialFollowersCount
	a.OfficialFollowingCount = data.OfficialFollowingCount
	a.OfficialRepositoriesCount = data.OfficialRepositoriesCount
	if !data.OfficialCreated.IsZero() {
		created := data.OfficialCreated
		a.OfficialCreated = &created
	}
	a.Status = StatusOK
	a.LastFetched = &now
	a.BackendLastStatus = 200
	a.BackendSameStatus = sameStatus
	a.BackendLastMessage = "ok"
	return nil
}

// FailFetch restores the pre-fetch status and records the provider error.
// last_fetched stays untouched so the next attempt is not suppressed.
func (a *Account) FailFetch(ctx context.Context, code int, message string) error {
	gdb, err := a.Mysql.Db()
	if err != nil {
		return err
	}

	status := StatusCreating
	if a.LastFetched != nil {
		status = StatusOK
	}

	sameStatus := 1
	if code == a.BackendLastStatus {
		sameStatus = a.BackendSameStatus + 1
	}

	fields := map[string]interface{}{
		"status":               status,
		"backend_last_status":  code,
		"backend_same_status":  sameStatus,
		"backend_last_message": message,
	}
	if err := gdb.WithContext(ctx).Model(&Account{}).Where("id = ?", a.ID).Updates(fields).Error; err != nil {
		return err
	}

	a.Status = status
	a.BackendLastStatus = code
	a.BackendSameStatus = sameStatus
	a.BackendLastMessage = message
	return nil
}

// UpdateFields persists direct (non-fetched) field mutations. Rejected with
// ErrFetchInFlight while a fetch holds the row, so a user edit can never
// race the fetch-completion write.
func (a *Account) UpdateFields(ctx context.Context, fields map[string]interface{}) error {
	gdb, err := a.Mysql.Db()
	if err != nil {
		return err
	}

	res := gdb.WithContext(ctx).Model(&Account{}).
		Where("id = ? AND status <> ?", a.ID, StatusUpdating).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFetchInFlight
	}
	return nil
}

func (a *Account) RelatedKinds(bk backend.Backend) []string {
	kinds := make([]string, 0, 3)
	if bk.Supports(backend.CapUserFollowers) {
		kinds = append(kinds, RelFollowers)
	}
	if bk.Supports(backend.CapUserFollowing) {
		kinds = append(kinds, RelFollowing)
	}
	if bk.Supports(backend.CapUserRepositories) {
		kinds = append(kinds, RelRepositories)
	}
	return kinds
}

func (a *Account) FetchRelated(ctx context.Context, bk backend.Backend, kind string, tok *token.Token) ([]Syncable, error) {
	switch kind {
	case RelFollowers:
		list, err := bk.UserFollowers(ctx, a.Slug, tok)
		if err != nil {
			return nil, err
		}
		return a.replaceAccountEdges(ctx, "Followers", list)

	case RelFollowing:
		list, err := bk.UserFollowing(ctx, a.Slug, tok)
		if err != nil {
			return nil, err
		}
		return a.replaceAccountEdges(ctx, "Following", list)

	case RelRepositories:
		list, err := bk.UserRepositories(ctx, a.Slug, tok)
		if err != nil {
			return nil, err
		}
		repoMd, _ := NewRepo(a.Config, a.Logger, a.Mysql)
		out := make([]Syncable, 0, len(list))
		for _, data := range list {
			repo, err := repoMd.GetOrCreate(ctx, a.Backend, data.Project(), data)
			if err != nil {
				return nil, err
			}
			if repo.OwnerID == nil {
				if err := repo.SetOwner(ctx, a); err != nil {
					return nil, err
				}
			}
			out = append(out, repo)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown relation kind %q for account", kind)
	}
}

// replaceAccountEdges materializes the listed accounts and replaces the
// named association with them.
func (a *Account) replaceAccountEdges(ctx context.Context, association string, list []*backend.AccountData) ([]Syncable, error) {
	gdb, err := a.Mysql.Db()
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(list))
	out := make([]Syncable, 0, len(list))
	for _, data := range list {
		account, err := a.GetOrCreate(ctx, a.Backend, data.Slug, data)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
		out = append(out, account)
	}

	if err := gdb.WithContext(ctx).Model(a).Association(association).Replace(accounts); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Account) CountTypes() []string {
	return []string{RelFollowers, RelFollowing, RelRepositories, RelContributing}
}

func (a *Account) UpdateCount(ctx context.Context, name string, useOfficial, persist bool) error {
	gdb, err := a.Mysql.Db()
	if err != nil {
		return err
	}

	var count int64
	var field string

	switch name {
	case RelFollowers:
		field = "followers_count"
		if useOfficial {
			count = int64(a.OfficialFollowersCount)
		} else {
			count = gdb.WithContext(ctx).Model(a).Association("Followers").Count()
		}
	case RelFollowing:
		field = "following_count"
		if useOfficial {
			count = int64(a.OfficialFollowingCount)
		} else {
			count = gdb.WithContext(ctx).Model(a).Association("Following").Count()
		}
	case RelRepositories:
		field = "repositories_count"
		if useOfficial {
			count = int64(a.OfficialRepositoriesCount)
		} else {
			if err := gdb.WithContext(ctx).Model(&Repo{}).Where("owner_id = ?", a.ID).Count(&count).Error; err != nil {
				return err
			}
		}
	case RelContributing:
		// No official figure exists for this one, always recount the
		// repositories holding this account in their contributors set.
		field = "contributions_count"
		if err := gdb.WithContext(ctx).Table("repository_contributors").Where("account_id = ?", a.ID).Count(&count).Error; err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown count type %q for account", name)
	}

	if persist {
		// Derived counts are not fetched fields, write them directly
		if err := gdb.WithContext(ctx).Model(&Account{}).Where("id = ?", a.ID).Update(field, count).Error; err != nil {
			return err
		}
	}

	switch name {
	case RelFollowers:
		a.FollowersCount = int(count)
	case RelFollowing:
		a.FollowingCount = int(count)
	case RelRepositories:
		a.RepositoriesCount = int(count)
	case RelContributing:
		a.ContributionsCount = int(count)
	}
	return nil
}

// UpdateScore recomputes the account score from its counts and metadata.
func (a *Account) UpdateScore(ctx context.Context, persist bool) error {
	parts := map[string]float64{}
	divider := 0.0

	infos := 0.0
	if a.Name != "" && a.Name != a.Slug {
		infos += 0.3
	}
	if a.Homepage != "" {
		infos += 0.3
	}
	if a.LastFetched != nil {
		infos += 0.3
	}
	parts["infos"] = infos

	divider += 1
	parts["followers"] = scorePart(float64(a.OfficialFollowersCount))

	divider += 1
	parts["repositories"] = scorePart(float64(a.RepositoriesCount))

	if a.ContributionsCount > 0 {
		divider += 1
		parts["contributing"] = scorePart(float64(a.ContributionsCount))
	}

	if a.OfficialCreated != nil {
		divider += 0.5
		days := time.Since(*a.OfficialCreated).Hours() / 24
		parts["life_time"] = scorePart(days / 90.0)
	}

	a.Score = finalScore(parts, divider)

	if persist {
		gdb, err := a.Mysql.Db()
		if err != nil {
			return err
		}
		return gdb.WithContext(ctx).Model(&Account{}).Where("id = ?", a.ID).Update("score", a.Score).Error
	}
	return nil
}
