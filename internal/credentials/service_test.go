package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
)

func TestRegisterThenVerifySucceeds(t *testing.T) {
	service := newTestService(t, newTestRepository(t))
	ctx := context.Background()

	registered, err := service.Register(ctx, Registration{Name: "Alice", Email: "alice@example.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if registered.PasswordHash == "" || registered.PasswordHash == "Secret123!" {
		t.Fatalf("expected a stored hash, got %q", registered.PasswordHash)
	}

	account, err := service.Verify(ctx, "Alice@Example.com ", "Secret123!")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if account.ID != registered.ID {
		t.Fatalf("expected account %s, got %s", registered.ID, account.ID)
	}
	if len(account.Roles) != 0 {
		t.Fatalf("expected no roles for a fresh account, got %v", account.RoleNames())
	}
}

func TestVerifyRejectsWrongPasswordAndUnknownEmailAlike(t *testing.T) {
	service := newTestService(t, newTestRepository(t))
	ctx := context.Background()

	if _, err := service.Register(ctx, Registration{Name: "Alice", Email: "alice@example.com", Password: "Secret123!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, wrongPassword := service.Verify(ctx, "alice@example.com", "Secret124!")
	_, unknownEmail := service.Verify(ctx, "nobody@example.com", "Secret123!")
	for _, err := range []error{wrongPassword, unknownEmail} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("failures must be indistinguishable: %q vs %q", wrongPassword, unknownEmail)
	}
}

func TestVerifyReportsNoPasswordChannelBeforeComparing(t *testing.T) {
	repository := newTestRepository(t)
	service := newTestService(t, repository)
	ctx := context.Background()

	if _, err := repository.CreateAccountWithLink(ctx,
		users.Account{Email: "bob@example.com", Name: "Bob"},
		users.ProviderLink{Provider: users.ProviderGoogle, ProviderSubjectID: "g-bob"},
	); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, err := service.Verify(ctx, "bob@example.com", "Secret123!")
	if !errors.Is(err, ErrNoPasswordChannel) {
		t.Fatalf("expected no password channel, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service := newTestService(t, newTestRepository(t))
	ctx := context.Background()

	if _, err := service.Register(ctx, Registration{Name: "Alice", Email: "alice@example.com", Password: "Secret123!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, err := service.Register(ctx, Registration{Name: "Imposter", Email: "ALICE@example.com", Password: "Another123"})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected account exists, got %v", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	service := newTestService(t, newTestRepository(t))

	testCases := []struct {
		name         string
		registration Registration
		fragment     string
	}{
		{name: "missing name", registration: Registration{Email: "a@example.com", Password: "Secret123!"}, fragment: "name"},
		{name: "malformed email", registration: Registration{Name: "A", Email: "not-an-email", Password: "Secret123!"}, fragment: "email"},
		{name: "weak password", registration: Registration{Name: "A", Email: "a@example.com", Password: "short"}, fragment: "at least 8 characters"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Register(context.Background(), testCase.registration)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), testCase.fragment) {
				t.Fatalf("expected %q in %q", testCase.fragment, err.Error())
			}
		})
	}
}

type unavailableStore struct{}

func (unavailableStore) FindByEmail(context.Context, string) (users.Account, error) {
	return users.Account{}, users.ErrStoreUnavailable
}

func (unavailableStore) CreateAccount(context.Context, users.Account) (users.Account, error) {
	return users.Account{}, users.ErrStoreUnavailable
}

func TestVerifyPropagatesStoreFailures(t *testing.T) {
	service := newTestService(t, unavailableStore{})
	_, err := service.Verify(context.Background(), "alice@example.com", "Secret123!")
	if !errors.Is(err, users.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("store failure must not read as invalid credentials")
	}
}
