package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	defaultResolveAttempts = 5
	defaultRetryInterval   = 20 * time.Millisecond

	opResolverNew = "users.resolver.new"
	opResolve     = "users.resolve"
)

var errMissingStore = errors.New("account store is required")

// LinkPolicy decides whether a new provider may attach to an existing account matched by email.
type LinkPolicy string

const (
	// LinkAutomatic attaches any provider asserting the account's email.
	LinkAutomatic LinkPolicy = "auto"
	// LinkRequireVerifiedEmail attaches a new provider only when it asserts email_verified.
	LinkRequireVerifiedEmail LinkPolicy = "verified_email"
)

// ParseLinkPolicy validates a configured policy name.
func ParseLinkPolicy(value string) (LinkPolicy, error) {
	switch LinkPolicy(normalizeKey(value)) {
	case LinkAutomatic, "":
		return LinkAutomatic, nil
	case LinkRequireVerifiedEmail:
		return LinkRequireVerifiedEmail, nil
	default:
		return "", fmt.Errorf("users: unknown link policy %q", value)
	}
}

// Store is the persistence contract required by the Resolver.
type Store interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindLink(ctx context.Context, provider, subject string) (ProviderLink, error)
	CreateAccountWithLink(ctx context.Context, account Account, link ProviderLink) (Account, error)
	CreateLink(ctx context.Context, link ProviderLink) (ProviderLink, error)
	UpdateLinkTokens(ctx context.Context, linkID string, tokens ProviderTokens) error
	UpdateProfile(ctx context.Context, accountID, name, picture string) error
}

// ResolverConfig describes the dependencies for identity resolution.
type ResolverConfig struct {
	Store Store
	// Providers enumerates the external providers accepted by Resolve.
	Providers     []string
	LinkPolicy    LinkPolicy
	MaxAttempts   uint
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// Resolver maps proven identity assertions onto canonical accounts.
type Resolver struct {
	store         Store
	providers     map[string]struct{}
	linkPolicy    LinkPolicy
	maxAttempts   uint
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewResolver validates the configuration and constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opResolverNew, "missing_store", errMissingStore)
	}
	providers := make(map[string]struct{}, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		if name := normalizeKey(provider); name != "" {
			providers[name] = struct{}{}
		}
	}
	policy, err := ParseLinkPolicy(string(cfg.LinkPolicy))
	if err != nil {
		return nil, newServiceError(opResolverNew, "invalid_link_policy", err)
	}
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = defaultResolveAttempts
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:         cfg.Store,
		providers:     providers,
		linkPolicy:    policy,
		maxAttempts:   attempts,
		retryInterval: interval,
		logger:        logger,
	}, nil
}

// Resolve returns the canonical account for the assertion. Local assertions pass through;
// external assertions find or create the account by email and reconcile provider links.
func (r *Resolver) Resolve(ctx context.Context, assertion Assertion) (Account, error) {
	switch typed := assertion.(type) {
	case LocalAssertion:
		if typed.Account.ID == "" {
			return Account{}, newServiceError(opResolve, "missing_account", ErrInvalidAssertion)
		}
		return typed.Account, nil
	case ExternalAssertion:
		return r.resolveExternal(ctx, typed)
	case *ExternalAssertion:
		if typed == nil {
			return Account{}, newServiceError(opResolve, "nil_assertion", ErrInvalidAssertion)
		}
		return r.resolveExternal(ctx, *typed)
	default:
		return Account{}, newServiceError(opResolve, "unsupported_assertion", ErrInvalidAssertion)
	}
}

func (r *Resolver) resolveExternal(ctx context.Context, raw ExternalAssertion) (Account, error) {
	assertion := raw.normalized()
	if assertion.Email == "" {
		return Account{}, newServiceError(opResolve, "missing_email", ErrMissingEmailClaim)
	}
	if assertion.Provider == "" || assertion.SubjectID == "" {
		return Account{}, newServiceError(opResolve, "missing_subject", ErrInvalidAssertion)
	}
	if _, ok := r.providers[assertion.Provider]; !ok {
		return Account{}, newServiceError(opResolve, "unknown_provider", ErrUnknownProvider)
	}

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.InitialInterval = r.retryInterval
	retryPolicy.MaxInterval = 10 * r.retryInterval

	attempt := 0
	account, err := backoff.Retry(ctx, func() (Account, error) {
		attempt++
		account, err := r.resolveOnce(ctx, assertion)
		if err == nil {
			return account, nil
		}
		if errors.Is(err, ErrConflict) {
			r.logger.Debug("identity resolution conflict, retrying",
				zap.String("provider", assertion.Provider),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return Account{}, err
		}
		return Account{}, backoff.Permanent(err)
	}, backoff.WithBackOff(retryPolicy), backoff.WithMaxTries(r.maxAttempts))
	if err != nil {
		r.logResolveFailure(assertion, err)
		return Account{}, err
	}
	return account, nil
}

// resolveOnce runs a single lookup-then-write pass. It is safe to re-enter from the top
// after a uniqueness conflict because every write is keyed by a unique index.
func (r *Resolver) resolveOnce(ctx context.Context, assertion ExternalAssertion) (Account, error) {
	account, err := r.store.FindByEmail(ctx, assertion.Email)
	if errors.Is(err, ErrAccountNotFound) {
		if err := r.ensureSubjectUnbound(ctx, assertion, ""); err != nil {
			if errors.Is(err, ErrProviderLinkTaken) && r.emailClaimed(ctx, assertion.Email) {
				return Account{}, fmt.Errorf("%w: account created concurrently", ErrConflict)
			}
			return Account{}, err
		}
		created, err := r.store.CreateAccountWithLink(ctx, Account{
			Email:   assertion.Email,
			Name:    fallbackName(assertion),
			Picture: assertion.Picture,
		}, assertion.link())
		if err != nil {
			return Account{}, err
		}
		r.logger.Info("account created from provider",
			zap.String("provider", assertion.Provider),
			zap.String("account_id", created.ID))
		return r.store.FindByEmail(ctx, assertion.Email)
	}
	if err != nil {
		return Account{}, err
	}

	if link, ok := account.LinkFor(assertion.Provider, assertion.SubjectID); ok {
		if err := r.store.UpdateLinkTokens(ctx, link.ID, assertion.Tokens); err != nil {
			return Account{}, err
		}
	} else {
		if _, taken := account.LinkForProvider(assertion.Provider); taken {
			return Account{}, newServiceError(opResolve, "provider_already_linked", ErrProviderAlreadyLinked)
		}
		if err := r.ensureSubjectUnbound(ctx, assertion, account.ID); err != nil {
			return Account{}, err
		}
		if r.linkPolicy == LinkRequireVerifiedEmail && !assertion.EmailVerified {
			return Account{}, newServiceError(opResolve, "link_unverified_email", ErrLinkConfirmationRequired)
		}
		link := assertion.link()
		link.AccountID = account.ID
		if _, err := r.store.CreateLink(ctx, link); err != nil {
			return Account{}, err
		}
		r.logger.Info("provider linked to existing account",
			zap.String("provider", assertion.Provider),
			zap.String("account_id", account.ID))
	}

	if err := r.store.UpdateProfile(ctx, account.ID, assertion.Name, assertion.Picture); err != nil {
		return Account{}, err
	}
	return r.store.FindByEmail(ctx, assertion.Email)
}

// ensureSubjectUnbound rejects a provider subject that already belongs to another account.
func (r *Resolver) ensureSubjectUnbound(ctx context.Context, assertion ExternalAssertion, accountID string) error {
	link, err := r.store.FindLink(ctx, assertion.Provider, assertion.SubjectID)
	if errors.Is(err, ErrLinkNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if link.AccountID != accountID {
		return newServiceError(opResolve, "subject_linked_elsewhere", ErrProviderLinkTaken)
	}
	return nil
}

// emailClaimed reports whether an account for email became visible since the last lookup.
func (r *Resolver) emailClaimed(ctx context.Context, email string) bool {
	_, err := r.store.FindByEmail(ctx, email)
	return err == nil
}

func (r *Resolver) logResolveFailure(assertion ExternalAssertion, err error) {
	fields := []zap.Field{
		zap.String("operation", opResolve),
		zap.String("provider", assertion.Provider),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, ErrProviderLinkTaken),
		errors.Is(err, ErrProviderAlreadyLinked),
		errors.Is(err, ErrLinkConfirmationRequired):
		r.logger.Info("identity resolution refused", fields...)
	default:
		r.logger.Error("identity resolution failed", fields...)
	}
}

// fallbackName uses the local part of the email when the provider omitted a display name.
func fallbackName(assertion ExternalAssertion) string {
	if assertion.Name != "" {
		return assertion.Name
	}
	for index := 0; index < len(assertion.Email); index++ {
		if assertion.Email[index] == '@' {
			return assertion.Email[:index]
		}
	}
	return assertion.Email
}
