package model

import (
	"context"
	"fmt"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/pkg/db"
	"github.com/reposhub/reposhub/pkg/log"
)

// Resolver turns a Ref back into the stored entity it names.
type Resolver struct {
	Accounts *Account
	Repos    *Repo
}

func NewResolver(config *cfg.Config, logger log.Logger, mysql *db.Mysql) (*Resolver, error) {
	accountMd, err := NewAccount(config, logger, mysql)
	if err != nil {
		return nil, err
	}
	repoMd, err := NewRepo(config, logger, mysql)
	if err != nil {
		return nil, err
	}
	return &Resolver{Accounts: accountMd, Repos: repoMd}, nil
}

func (r *Resolver) Resolve(ctx context.Context, ref Ref) (Syncable, error) {
	switch ref.Kind {
	case KindAccount:
		return r.Accounts.ByID(ctx, ref.ID)
	case KindRepository:
		return r.Repos.ByID(ctx, ref.ID)
	default:
		return nil, fmt.Errorf("unknown ref kind %q", ref.Kind)
	}
}
