package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	maxNameLength    = 320
	timingEqualizer  = "gatekeeper-timing-equalizer"
	opServiceNew     = "credentials.service.new"
	emailValidateTag = "required,email,max=320"
)

var (
	// ErrInvalidCredentials is the generic local login failure. It does not reveal whether
	// the email is registered.
	ErrInvalidCredentials = errors.New("credentials: invalid email or password")
	// ErrNoPasswordChannel indicates the account exists but signs in through an external provider.
	ErrNoPasswordChannel = errors.New("credentials: account has no password, use external sign-in")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("credentials: invalid input")
	// ErrAccountExists indicates registration hit an email that is already taken.
	ErrAccountExists = errors.New("credentials: account already exists")

	errMissingStore = errors.New("account store is required")
)

// AccountStore is the persistence contract required by the credential service.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (users.Account, error)
	CreateAccount(ctx context.Context, account users.Account) (users.Account, error)
}

// ServiceConfig describes the dependencies of the credential service.
type ServiceConfig struct {
	Store      AccountStore
	BcryptCost int
	Logger     *zap.Logger
}

// Service registers local accounts and verifies email/password pairs.
type Service struct {
	store     AccountStore
	hasher    *Hasher
	validate  *validator.Validate
	dummyHash string
	logger    *zap.Logger
}

// NewService constructs the credential service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingStore)
	}
	hasher, err := NewHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(timingEqualizer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     cfg.Store,
		hasher:    hasher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		dummyHash: dummyHash,
		logger:    logger,
	}, nil
}

// Registration is the input to Register.
type Registration struct {
	Name     string
	Email    string
	Password string
}

// Register validates the registration, hashes the password and creates the account.
func (s *Service) Register(ctx context.Context, registration Registration) (users.Account, error) {
	name := strings.TrimSpace(registration.Name)
	email := users.NormalizeEmail(registration.Email)
	if name == "" || len(name) > maxNameLength {
		return users.Account{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := s.validateEmail(email); err != nil {
		return users.Account{}, err
	}
	if err := ValidatePassword(registration.Password); err != nil {
		return users.Account{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	hash, err := s.hasher.Hash(registration.Password)
	if err != nil {
		return users.Account{}, err
	}
	account, err := s.store.CreateAccount(ctx, users.Account{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	})
	if errors.Is(err, users.ErrConflict) {
		return users.Account{}, ErrAccountExists
	}
	if err != nil {
		return users.Account{}, err
	}
	s.logger.Info("local account registered", zap.String("account_id", account.ID))
	return account, nil
}

// Verify checks an email/password pair and returns the account with roles loaded.
func (s *Service) Verify(ctx context.Context, email, password string) (users.Account, error) {
	email = users.NormalizeEmail(email)
	if err := s.validateEmail(email); err != nil {
		return users.Account{}, err
	}
	if password == "" {
		return users.Account{}, fmt.Errorf("%w: password is required", ErrValidation)
	}

	account, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrAccountNotFound) {
		// Spend the same bcrypt work as a real comparison so timing does not reveal registration.
		_, _ = s.hasher.Matches(s.dummyHash, password)
		return users.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return users.Account{}, err
	}
	if !account.HasPassword() {
		return users.Account{}, ErrNoPasswordChannel
	}

	matches, err := s.hasher.Matches(account.PasswordHash, password)
	if err != nil {
		s.logger.Warn("stored password hash unusable", zap.String("account_id", account.ID), zap.Error(err))
		return users.Account{}, ErrInvalidCredentials
	}
	if !matches {
		return users.Account{}, ErrInvalidCredentials
	}
	return account, nil
}

func (s *Service) validateEmail(email string) error {
	if err := s.validate.Var(email, emailValidateTag); err != nil {
		return fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	return nil
}
