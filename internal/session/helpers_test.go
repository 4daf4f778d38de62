package session

import (
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testSigningSecret = "session-test-secret"

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func newTestDatabase(t *testing.T) *gorm.DB {
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
	if err := db.AutoMigrate(&users.Account{}, &users.Role{}, &users.ProviderLink{}, &Session{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type managerFixture struct {
	manager    *Manager
	store      *DatabaseStore
	repository *users.Repository
	clock      *testClock
}

func newManagerFixture(t *testing.T) managerFixture {
	t.Helper()
	db := newTestDatabase(t)
	clock := newTestClock()
	repository, err := users.NewRepository(users.RepositoryConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	store, err := NewDatabaseStore(db, time.Second)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	codec, err := NewCodec(CodecConfig{SigningSecret: []byte(testSigningSecret), Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	manager, err := NewManager(ManagerConfig{
		Store:    store,
		Codec:    codec,
		Accounts: repository,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return managerFixture{manager: manager, store: store, repository: repository, clock: clock}
}
