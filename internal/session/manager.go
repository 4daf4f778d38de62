package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTTL is the fixed session window applied when none is configured.
const DefaultTTL = 24 * time.Hour

var (
	errMissingStore         = errors.New("session: store is required")
	errMissingCodec         = errors.New("session: token codec is required")
	errMissingAccountLoader = errors.New("session: account loader is required")
)

// AccountLoader re-reads accounts so that rehydrated sessions always see current roles.
type AccountLoader interface {
	FindByID(ctx context.Context, id string) (users.Account, error)
}

// ManagerConfig describes the dependencies of the session manager.
type ManagerConfig struct {
	Store    Store
	Codec    *Codec
	Accounts AccountLoader
	TTL      time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Manager establishes, rehydrates and destroys sessions.
type Manager struct {
	store    Store
	codec    *Codec
	accounts AccountLoader
	ttl      time.Duration
	clock    func() time.Time
	logger   *zap.Logger
}

// Token is a signed session token and the instant it stops being accepted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// NewManager validates the configuration and constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	switch {
	case cfg.Store == nil:
		return nil, errMissingStore
	case cfg.Codec == nil:
		return nil, errMissingCodec
	case cfg.Accounts == nil:
		return nil, errMissingAccountLoader
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    cfg.Store,
		codec:    cfg.Codec,
		accounts: cfg.Accounts,
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
	}, nil
}

// TTL reports the session window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Establish persists a new session for account and returns its signed token.
func (m *Manager) Establish(ctx context.Context, account users.Account) (Token, error) {
	if account.ID == "" {
		return Token{}, fmt.Errorf("session: establish requires an account id")
	}
	now := m.clock().UTC()
	record := Session{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		ExpiresAt: now.Add(m.ttl).Truncate(time.Second),
		CreatedAt: now,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return Token{}, err
	}
	value, err := m.codec.Issue(Claims{
		AccountID: record.AccountID,
		SessionID: record.ID,
		ExpiresAt: record.ExpiresAt,
	})
	if err != nil {
		return Token{}, err
	}
	m.logger.Debug("session established", zap.String("account_id", account.ID))
	return Token{Value: value, ExpiresAt: record.ExpiresAt}, nil
}

// Rehydrate validates the token, confirms the stored session and reloads the account.
func (m *Manager) Rehydrate(ctx context.Context, token string) (users.Account, error) {
	claims, err := m.codec.Parse(token)
	if err != nil {
		return users.Account{}, err
	}
	record, err := m.store.Get(ctx, claims.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return users.Account{}, fmt.Errorf("%w: session revoked or unknown", ErrInvalidSession)
	}
	if err != nil {
		return users.Account{}, err
	}
	if record.AccountID != claims.AccountID {
		m.logger.Warn("session token subject mismatch", zap.String("session_id", record.ID))
		return users.Account{}, fmt.Errorf("%w: subject mismatch", ErrInvalidSession)
	}
	if !m.clock().Before(record.ExpiresAt) {
		return users.Account{}, ErrExpiredSession
	}

	account, err := m.accounts.FindByID(ctx, record.AccountID)
	if errors.Is(err, users.ErrAccountNotFound) {
		return users.Account{}, fmt.Errorf("%w: account no longer exists", ErrInvalidSession)
	}
	if err != nil {
		return users.Account{}, err
	}
	return account, nil
}

// Destroy revokes the session behind token. Unknown, expired or malformed tokens are a no-op.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	claims, err := m.codec.ParseIgnoringExpiry(token)
	if err != nil {
		m.logger.Debug("ignoring logout for unusable token", zap.Error(err))
		return nil
	}
	if err := m.store.Delete(ctx, claims.SessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}
