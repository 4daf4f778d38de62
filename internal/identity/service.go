// Package identity exposes the login, session and authorization operations used by
// the HTTP server and the administration commands.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/credentials"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/session"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"go.uber.org/zap"
)

var (
	// ErrInvalidRole indicates an empty role name in an administration request.
	ErrInvalidRole = errors.New("identity: role name is required")

	errMissingDependency = errors.New("identity: missing dependency")
)

// CredentialVerifier registers and verifies local password accounts.
type CredentialVerifier interface {
	Register(ctx context.Context, registration credentials.Registration) (users.Account, error)
	Verify(ctx context.Context, email, password string) (users.Account, error)
}

// Resolver maps assertions to canonical accounts.
type Resolver interface {
	Resolve(ctx context.Context, assertion users.Assertion) (users.Account, error)
}

// SessionIssuer establishes and destroys sessions.
type SessionIssuer interface {
	Establish(ctx context.Context, account users.Account) (session.Token, error)
	Destroy(ctx context.Context, token string) error
}

// Gate enforces session and role requirements.
type Gate interface {
	RequireAuthenticated(ctx context.Context, token string) (users.Account, error)
	RequireRole(ctx context.Context, token, role string) (users.Account, error)
}

// AccountDirectory looks up accounts and administers their roles.
type AccountDirectory interface {
	FindByEmail(ctx context.Context, email string) (users.Account, error)
	AssignRole(ctx context.Context, accountID, roleName string) error
	RevokeRole(ctx context.Context, accountID, roleName string) error
}

// Config wires the collaborators of Service.
type Config struct {
	Credentials CredentialVerifier
	Resolver    Resolver
	Sessions    SessionIssuer
	Gate        Gate
	Accounts    AccountDirectory
	Logger      *zap.Logger
}

// Service is the single entry point for authentication flows.
type Service struct {
	credentials CredentialVerifier
	resolver    Resolver
	sessions    SessionIssuer
	gate        Gate
	accounts    AccountDirectory
	logger      *zap.Logger
}

// Login is the outcome of a successful sign-in: the canonical account and its new session.
type Login struct {
	Account users.Account
	Session session.Token
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Credentials == nil:
		return nil, fmt.Errorf("%w: credentials", errMissingDependency)
	case cfg.Resolver == nil:
		return nil, fmt.Errorf("%w: resolver", errMissingDependency)
	case cfg.Sessions == nil:
		return nil, fmt.Errorf("%w: sessions", errMissingDependency)
	case cfg.Gate == nil:
		return nil, fmt.Errorf("%w: gate", errMissingDependency)
	case cfg.Accounts == nil:
		return nil, fmt.Errorf("%w: accounts", errMissingDependency)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		credentials: cfg.Credentials,
		resolver:    cfg.Resolver,
		sessions:    cfg.Sessions,
		gate:        cfg.Gate,
		accounts:    cfg.Accounts,
		logger:      logger,
	}, nil
}

// Register creates a local account and signs it in.
func (s *Service) Register(ctx context.Context, name, email, password string) (Login, error) {
	account, err := s.credentials.Register(ctx, credentials.Registration{Name: name, Email: email, Password: password})
	if err != nil {
		return Login{}, err
	}
	return s.signIn(ctx, users.LocalAssertion{Account: account})
}

// LoginLocal verifies an email/password pair and establishes a session.
func (s *Service) LoginLocal(ctx context.Context, email, password string) (Login, error) {
	account, err := s.credentials.Verify(ctx, email, password)
	if err != nil {
		s.logLoginFailure("local", err)
		return Login{}, err
	}
	return s.signIn(ctx, users.LocalAssertion{Account: account})
}

// LoginExternal resolves a verified provider profile and establishes a session.
func (s *Service) LoginExternal(ctx context.Context, assertion users.ExternalAssertion) (Login, error) {
	return s.signIn(ctx, assertion)
}

// CurrentAccount returns the account behind token with freshly loaded roles.
func (s *Service) CurrentAccount(ctx context.Context, token string) (users.Account, error) {
	return s.gate.RequireAuthenticated(ctx, token)
}

// Logout revokes the session behind token. Repeated or stale logouts succeed.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Destroy(ctx, token)
}

// RequireRole returns the account behind token when it holds role.
func (s *Service) RequireRole(ctx context.Context, token, role string) (users.Account, error) {
	return s.gate.RequireRole(ctx, token, role)
}

// LookupAccount finds an account by email for administrators.
func (s *Service) LookupAccount(ctx context.Context, email string) (users.Account, error) {
	return s.accounts.FindByEmail(ctx, email)
}

// GrantRole assigns role to the account registered under email.
func (s *Service) GrantRole(ctx context.Context, email, role string) (users.Account, error) {
	return s.changeRole(ctx, email, role, s.accounts.AssignRole)
}

// RevokeRole removes role from the account registered under email.
func (s *Service) RevokeRole(ctx context.Context, email, role string) (users.Account, error) {
	return s.changeRole(ctx, email, role, s.accounts.RevokeRole)
}

func (s *Service) changeRole(ctx context.Context, email, role string, apply func(context.Context, string, string) error) (users.Account, error) {
	if strings.TrimSpace(role) == "" {
		return users.Account{}, ErrInvalidRole
	}
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return users.Account{}, err
	}
	if err := apply(ctx, account.ID, role); err != nil {
		return users.Account{}, err
	}
	s.logger.Info("account roles changed", zap.String("account_id", account.ID), zap.String("role", role))
	return s.accounts.FindByEmail(ctx, email)
}

func (s *Service) signIn(ctx context.Context, assertion users.Assertion) (Login, error) {
	account, err := s.resolver.Resolve(ctx, assertion)
	if err != nil {
		return Login{}, err
	}
	token, err := s.sessions.Establish(ctx, account)
	if err != nil {
		s.logger.Error("failed to establish session", zap.String("account_id", account.ID), zap.Error(err))
		return Login{}, err
	}
	return Login{Account: account, Session: token}, nil
}

func (s *Service) logLoginFailure(channel string, err error) {
	if errors.Is(err, credentials.ErrInvalidCredentials) ||
		errors.Is(err, credentials.ErrNoPasswordChannel) ||
		errors.Is(err, credentials.ErrValidation) {
		s.logger.Info("login rejected", zap.String("channel", channel), zap.Error(err))
		return
	}
	s.logger.Warn("login failed", zap.String("channel", channel), zap.Error(err))
}
