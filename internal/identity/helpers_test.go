package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/authz"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/credentials"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/session"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type serviceFixture struct {
	service    *Service
	repository *users.Repository
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true, Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&users.Account{}, &users.Role{}, &users.ProviderLink{}, &session.Session{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	repository, err := users.NewRepository(users.RepositoryConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	resolver, err := users.NewResolver(users.ResolverConfig{
		Store:     repository,
		Providers: []string{users.ProviderGoogle, users.ProviderApple},
	})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	verifier, err := credentials.NewService(credentials.ServiceConfig{Store: repository, BcryptCost: bcrypt.DefaultCost})
	if err != nil {
		t.Fatalf("failed to create credential service: %v", err)
	}
	store, err := session.NewDatabaseStore(db, time.Second)
	if err != nil {
		t.Fatalf("failed to create session store: %v", err)
	}
	codec, err := session.NewCodec(session.CodecConfig{SigningSecret: []byte("identity-test-secret")})
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	manager, err := session.NewManager(session.ManagerConfig{Store: store, Codec: codec, Accounts: repository})
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	gate, err := authz.NewGate(manager, nil)
	if err != nil {
		t.Fatalf("failed to create gate: %v", err)
	}

	service, err := NewService(Config{
		Credentials: verifier,
		Resolver:    resolver,
		Sessions:    manager,
		Gate:        gate,
		Accounts:    repository,
	})
	if err != nil {
		t.Fatalf("failed to create identity service: %v", err)
	}
	return serviceFixture{service: service, repository: repository}
}

func externalAssertion(provider, subject, email, accessToken string) users.ExternalAssertion {
	return users.ExternalAssertion{
		Provider:      provider,
		SubjectID:     subject,
		Email:         email,
		EmailVerified: true,
		Name:          "Bob",
		Tokens:        users.ProviderTokens{AccessToken: accessToken},
	}
}
