package token

import (
	"context"
	"errors"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/pkg/db"
	"github.com/reposhub/reposhub/pkg/log"
	"gorm.io/gorm"
)

// Store is the query surface the pool needs from the durable token store.
type Store interface {
	Create(ctx context.Context, t *Token) error
	Eligible(ctx context.Context, backendName string) ([]*Token, error)
	ByUID(ctx context.Context, backendName, uid string) (*Token, error)
	ByCredentials(ctx context.Context, backendName, login, secret string) (*Token, error)
	TryLock(ctx context.Context, uid string) (bool, error)
	Unlock(ctx context.Context, uid string) error
	SetStatus(ctx context.Context, uid string, code int, message string) error
}

// GormStore persists tokens in MySQL so that several worker processes share
// one pool.
type GormStore struct {
	Config *cfg.Config
	Logger log.Logger
	Mysql  *db.Mysql
}

func NewGormStore(config *cfg.Config, logger log.Logger, mysql *db.Mysql) (*GormStore, error) {
	return &GormStore{
		Config: config,
		Logger: logger,
		Mysql:  mysql,
	}, nil
}

func (s *GormStore) Create(ctx context.Context, t *Token) error {
	t.UID = t.ComputeUID()
	t.LastUsed = time.Now()

	gdb, err := s.Mysql.Db()
	if err != nil {
		return err
	}
	return gdb.WithContext(ctx).Create(t).Error
}

func (s *GormStore) Eligible(ctx context.Context, backendName string) ([]*Token, error) {
	gdb, err := s.Mysql.Db()
	if err != nil {
		return nil, err
	}

	var tokens []*Token
	err = gdb.WithContext(ctx).
		Where("backend = ? AND status = ? AND in_use = ?", backendName, StatusOK, false).
		Find(&tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *GormStore) ByUID(ctx context.Context, backendName, uid string) (*Token, error) {
	gdb, err := s.Mysql.Db()
	if err != nil {
		return nil, err
	}

	var t Token
	err = gdb.WithContext(ctx).
		Where("backend = ? AND uid = ?", backendName, uid).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) ByCredentials(ctx context.Context, backendName, login, secret string) (*Token, error) {
	gdb, err := s.Mysql.Db()
	if err != nil {
		return nil, err
	}

	var t Token
	err = gdb.WithContext(ctx).
		Where("backend = ? AND login = ? AND secret = ?", backendName, login, secret).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TryLock is a compare-and-set on in_use so two workers can never hold the
// same token at once.
func (s *GormStore) TryLock(ctx context.Context, uid string) (bool, error) {
	gdb, err := s.Mysql.Db()
	if err != nil {
		return false, err
	}

	res := gdb.WithContext(ctx).Model(&Token{}).
		Where("uid = ? AND in_use = ?", uid, false).
		Updates(map[string]interface{}{"in_use": true, "last_used": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) Unlock(ctx context.Context, uid string) error {
	gdb, err := s.Mysql.Db()
	if err != nil {
		return err
	}

	return gdb.WithContext(ctx).Model(&Token{}).
		Where("uid = ?", uid).
		Update("in_use", false).Error
}

func (s *GormStore) SetStatus(ctx context.Context, uid string, code int, message string) error {
	gdb, err := s.Mysql.Db()
	if err != nil {
		return err
	}

	return gdb.WithContext(ctx).Model(&Token{}).
		Where("uid = ?", uid).
		Updates(map[string]interface{}{
			"status":       code,
			"last_message": message,
			"last_used":    time.Now(),
		}).Error
}
