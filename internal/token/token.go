package token

import (
	"fmt"
	"time"
)

// StatusOK is the provider status code of a usable token.
const StatusOK = 200

// Token is a provider login/secret pair usable for authenticated fetches.
// A token is exclusively held by at most one in-flight fetch; `in_use`
// tracks the exclusive holder across worker processes.
type Token struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UID         string    `json:"uid" gorm:"column:uid;type:varchar(255);uniqueIndex;not null"`
	Backend     string    `json:"backend" gorm:"column:backend;type:varchar(30);index;not null"`
	Login       string    `json:"login" gorm:"column:login;type:varchar(255);index;not null"`
	Secret      string    `json:"secret" gorm:"column:secret;type:varchar(255);not null"`
	Status      int       `json:"status" gorm:"column:status;default:200"`
	InUse       bool      `json:"in_use" gorm:"column:in_use;default:false"`
	LastUsed    time.Time `json:"last_used" gorm:"column:last_used"`
	LastMessage string    `json:"last_message" gorm:"column:last_message;type:text"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (t *Token) TableName() string {
	return "tokens"
}

// ComputeUID builds the unique identifier of a token. The (backend, login,
// secret) triple is unique, so the concatenation is too.
func (t *Token) ComputeUID() string {
	return fmt.Sprintf("%s:%s:%s", t.Backend, t.Login, t.Secret)
}

// Usable reports whether the pool may hand this token out.
func (t *Token) Usable() bool {
	return t.Status == StatusOK
}
