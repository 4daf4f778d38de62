package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/auth"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/authz"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/credentials"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/database"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/identity"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/session"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testCookieName = "gatekeeper_session"

type stubVerifier struct {
	profiles map[string]auth.Profile
}

func (s stubVerifier) Verify(_ context.Context, rawToken string) (auth.Profile, error) {
	profile, ok := s.profiles[rawToken]
	if !ok {
		return auth.Profile{}, auth.ErrInvalidIDToken
	}
	return profile, nil
}

type serverFixture struct {
	handler    http.Handler
	repository *users.Repository
}

func newServerFixture(t *testing.T, verifiers map[string]IDTokenVerifier, logger *zap.Logger) serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	if err := database.Migrate(db, zap.NewNop()); err != nil {
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
	codec, err := session.NewCodec(session.CodecConfig{SigningSecret: []byte("server-test-secret")})
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	manager, err := session.NewManager(session.ManagerConfig{Store: store, Codec: codec, Accounts: repository})
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	gate, err := authz.NewGate(manager, logger)
	if err != nil {
		t.Fatalf("failed to create gate: %v", err)
	}
	service, err := identity.NewService(identity.Config{
		Credentials: verifier,
		Resolver:    resolver,
		Sessions:    manager,
		Gate:        gate,
		Accounts:    repository,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to create identity service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Identity:       service,
		Gate:           gate,
		Verifiers:      verifiers,
		CookieName:     testCookieName,
		AllowedOrigins: []string{"https://app.example.com"},
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	return serverFixture{handler: handler, repository: repository}
}

func (f serverFixture) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func sessionCookie(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == testCookieName && cookie.Value != "" {
			if !cookie.HttpOnly {
				t.Fatalf("expected session cookie to be HttpOnly")
			}
			return cookie
		}
	}
	t.Fatalf("expected %s cookie in response", testCookieName)
	return nil
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

var errUnexpected = errors.New("unexpected failure")
