package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidSession indicates a token that is malformed, forged, revoked or unknown.
	ErrInvalidSession = errors.New("session: invalid session")
	// ErrExpiredSession indicates a well-formed session whose window has elapsed.
	ErrExpiredSession = errors.New("session: session expired")
	// ErrSessionNotFound is returned by stores when no session matches the identifier.
	ErrSessionNotFound = errors.New("session: not found")
)

// Session is the server-side record behind an issued token.
type Session struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	AccountID string    `gorm:"not null;index:idx_sessions_account" json:"account_id"`
	ExpiresAt time.Time `gorm:"not null;index:idx_sessions_expires_at" json:"expires_at"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// TableName binds the model to the sessions table.
func (Session) TableName() string {
	return "sessions"
}

// Store persists session records.
type Store interface {
	Create(ctx context.Context, record Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	Delete(ctx context.Context, sessionID string) error
}
