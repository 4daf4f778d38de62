package users

import (
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

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
	if err := db.AutoMigrate(&Account{}, &Role{}, &ProviderLink{}); err != nil {
		t.Fatalf("failed to migrate account schema: %v", err)
	}
	return db
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repository, err := NewRepository(RepositoryConfig{Database: newTestDatabase(t)})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	return repository
}

func newTestResolver(t *testing.T, store Store, policy LinkPolicy) *Resolver {
	t.Helper()
	resolver, err := NewResolver(ResolverConfig{
		Store:      store,
		Providers:  []string{ProviderGoogle, ProviderApple},
		LinkPolicy: policy,
	})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	return resolver
}
