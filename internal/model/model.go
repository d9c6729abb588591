package model

import (
	"errors"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/pkg/db"
	"github.com/reposhub/reposhub/pkg/log"
)

// Entity statuses. Fetched fields may only be written through the fetch
// pipeline; direct saves while a fetch is in flight are rejected.
const (
	StatusCreating = "creating"
	StatusUpdating = "updating"
	StatusOK       = "ok"
	StatusOrphan   = "orphan" // accounts no local user links to
)

// ErrFetchInFlight is returned when a direct field mutation targets an
// entity whose status is `updating`.
var ErrFetchInFlight = errors.New("a fetch is in flight for this entity")

type Model struct {
	Config    *cfg.Config `json:"-" gorm:"-"`
	Logger    log.Logger  `json:"-" gorm:"-"`
	Mysql     *db.Mysql   `json:"-" gorm:"-"`
	ID        uint        `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (m *Model) inject(config *cfg.Config, logger log.Logger, mysql *db.Mysql) {
	m.Config = config
	m.Logger = logger
	m.Mysql = mysql
}
