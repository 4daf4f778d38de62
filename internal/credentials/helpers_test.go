package credentials

import (
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) *users.Repository {
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
	if err := db.AutoMigrate(&users.Account{}, &users.Role{}, &users.ProviderLink{}); err != nil {
		t.Fatalf("failed to migrate account schema: %v", err)
	}
	repository, err := users.NewRepository(users.RepositoryConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	return repository
}

func newTestService(t *testing.T, store AccountStore) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Store: store, BcryptCost: bcrypt.DefaultCost})
	if err != nil {
		t.Fatalf("failed to create credential service: %v", err)
	}
	return service
}
