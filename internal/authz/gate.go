// Package authz decides whether a session token may reach a protected operation.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/session"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"go.uber.org/zap"
)

var (
	// ErrUnauthenticated indicates a missing, invalid or expired session.
	ErrUnauthenticated = errors.New("authz: not authenticated")
	// ErrForbidden indicates a valid session that lacks the required role.
	ErrForbidden = errors.New("authz: forbidden")

	errMissingSessions = errors.New("authz: session rehydrator is required")
)

// SessionRehydrator resolves a token into the account that currently owns it.
type SessionRehydrator interface {
	Rehydrate(ctx context.Context, token string) (users.Account, error)
}

// Gate enforces authentication and role requirements.
type Gate struct {
	sessions SessionRehydrator
	logger   *zap.Logger
}

// NewGate constructs a Gate.
func NewGate(sessions SessionRehydrator, logger *zap.Logger) (*Gate, error) {
	if sessions == nil {
		return nil, errMissingSessions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{sessions: sessions, logger: logger}, nil
}

// RequireAuthenticated returns the account behind token or ErrUnauthenticated.
// Storage failures are returned unchanged so callers can report them as retryable.
func (g *Gate) RequireAuthenticated(ctx context.Context, token string) (users.Account, error) {
	if strings.TrimSpace(token) == "" {
		return users.Account{}, ErrUnauthenticated
	}
	account, err := g.sessions.Rehydrate(ctx, token)
	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, session.ErrExpiredSession):
		g.logger.Info("session validation failed", zap.Error(err))
		return users.Account{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	case errors.Is(err, session.ErrInvalidSession):
		g.logger.Warn("session validation failed", zap.Error(err))
		return users.Account{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	default:
		return users.Account{}, err
	}
}

// RequireRole returns the account behind token when it holds role. The forbidden error
// never names the roles the account does hold.
func (g *Gate) RequireRole(ctx context.Context, token, role string) (users.Account, error) {
	account, err := g.RequireAuthenticated(ctx, token)
	if err != nil {
		return users.Account{}, err
	}
	if !account.HasRole(role) {
		g.logger.Info("role requirement not met",
			zap.String("account_id", account.ID),
			zap.String("required_role", role))
		return users.Account{}, ErrForbidden
	}
	return account, nil
}
