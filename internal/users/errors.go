package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound indicates no account matched the lookup key.
	ErrAccountNotFound = errors.New("users: account not found")
	// ErrLinkNotFound indicates no provider link matched the lookup key.
	ErrLinkNotFound = errors.New("users: provider link not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("users: conflicting record")
	// ErrStoreUnavailable indicates a transient storage failure such as a timeout.
	ErrStoreUnavailable = errors.New("users: store unavailable")
	// ErrInvalidAssertion indicates the assertion is malformed.
	ErrInvalidAssertion = errors.New("users: invalid assertion")
	// ErrMissingEmailClaim indicates the provider profile did not include an email.
	ErrMissingEmailClaim = errors.New("users: provider profile missing email")
	// ErrUnknownProvider indicates the assertion names a provider that is not configured.
	ErrUnknownProvider = errors.New("users: provider not configured")
	// ErrProviderLinkTaken indicates the provider subject is already bound to another account.
	ErrProviderLinkTaken = errors.New("users: provider identity linked to another account")
	// ErrProviderAlreadyLinked indicates the account already holds a different subject for the provider.
	ErrProviderAlreadyLinked = errors.New("users: account already linked to provider")
	// ErrLinkConfirmationRequired indicates the link policy refused to attach an unverified email.
	ErrLinkConfirmationRequired = errors.New("users: link requires verified email")
)

// ServiceError decorates a sentinel with the operation and reason that produced it.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// translateStoreError maps driver and gorm failures onto the package sentinels.
func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
