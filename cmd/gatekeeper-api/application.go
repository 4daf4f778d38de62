package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/auth"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/authz"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/config"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/credentials"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/database"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/identity"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/server"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/session"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errPurgeUnsupported = errors.New("purge-sessions requires the database session store; redis expires sessions itself")

// application holds the wired service graph shared by the server and the admin commands.
type application struct {
	db           *gorm.DB
	redisClient  *redis.Client
	sessionStore session.Store
	identity     *identity.Service
	gate         *authz.Gate
	verifiers    map[string]server.IDTokenVerifier
	logger       *zap.Logger
}

func newApplication(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app := &application{db: db, logger: logger}

	repository, err := users.NewRepository(users.RepositoryConfig{
		Database: db,
		Timeout:  appConfig.StoreTimeout,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	if err := app.openSessionStore(ctx, appConfig); err != nil {
		app.Close()
		return nil, err
	}

	codec, err := session.NewCodec(session.CodecConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.SessionIssuer,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	manager, err := session.NewManager(session.ManagerConfig{
		Store:    app.sessionStore,
		Codec:    codec,
		Accounts: repository,
		TTL:      appConfig.SessionTTL,
		Logger:   logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	gate, err := authz.NewGate(manager, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	credentialService, err := credentials.NewService(credentials.ServiceConfig{
		Store:      repository,
		BcryptCost: appConfig.BcryptCost,
		Logger:     logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	resolver, err := users.NewResolver(users.ResolverConfig{
		Store:      repository,
		Providers:  appConfig.EnabledProviders(),
		LinkPolicy: appConfig.LinkPolicy,
		Logger:     logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	identityService, err := identity.NewService(identity.Config{
		Credentials: credentialService,
		Resolver:    resolver,
		Sessions:    manager,
		Gate:        gate,
		Accounts:    repository,
		Logger:      logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	verifiers, err := newVerifiers(appConfig, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.identity = identityService
	app.gate = gate
	app.verifiers = verifiers
	return app, nil
}

func (a *application) openSessionStore(ctx context.Context, appConfig config.AppConfig) error {
	switch appConfig.SessionStore {
	case config.SessionStoreRedis:
		client, err := session.NewRedisClient(ctx, session.RedisConfig{
			Address:  appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.redisClient = client
		a.sessionStore = session.NewRedisStore(client, appConfig.StoreTimeout, time.Now)
	default:
		store, err := session.NewDatabaseStore(a.db, appConfig.StoreTimeout)
		if err != nil {
			return err
		}
		a.sessionStore = store
	}
	return nil
}

func newVerifiers(appConfig config.AppConfig, logger *zap.Logger) (map[string]server.IDTokenVerifier, error) {
	audiences := map[string]string{
		users.ProviderGoogle: appConfig.GoogleClientID,
		users.ProviderApple:  appConfig.AppleClientID,
	}
	jwksURLs := map[string]string{
		users.ProviderGoogle: appConfig.GoogleJWKSURL,
		users.ProviderApple:  appConfig.AppleJWKSURL,
	}

	verifiers := make(map[string]server.IDTokenVerifier)
	for _, provider := range appConfig.EnabledProviders() {
		verifier, err := auth.NewProviderVerifier(auth.ProviderVerifierConfig{
			Provider: provider,
			Audience: audiences[provider],
			JWKSURL:  jwksURLs[provider],
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%s verifier: %w", provider, err)
		}
		verifiers[provider] = verifier
	}
	return verifiers, nil
}

func (a *application) purgeExpiredSessions(ctx context.Context) (int64, error) {
	store, ok := a.sessionStore.(*session.DatabaseStore)
	if !ok {
		return 0, errPurgeUnsupported
	}
	removed, err := store.PurgeExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	a.logger.Info("expired sessions purged", zap.Int64("removed", removed))
	return removed, nil
}

// Close releases the database and redis connections.
func (a *application) Close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.db == nil {
		return
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
}
