// Package config loads gatekeeper runtime settings from flags, environment and config files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/spf13/viper"
)

const (
	envPrefix            = "GATEKEEPER"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "gatekeeper.db"
	defaultLogLevel      = "info"
	defaultCookieName    = "gatekeeper_session"
	defaultSessionIssuer = "gatekeeper"
	defaultSessionTTL    = 24 * time.Hour
	defaultStoreTimeout  = 5 * time.Second
	defaultRedisAddress  = "127.0.0.1:6379"
	minSigningSecretSize = 32

	// SessionStoreDatabase keeps sessions in the SQLite sessions table.
	SessionStoreDatabase = "database"
	// SessionStoreRedis keeps sessions in Redis with a key TTL.
	SessionStoreRedis = "redis"
)

// AppConfig captures runtime configuration for the API server and admin commands.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SigningSecret      string
	SessionIssuer      string
	SessionCookieName  string
	SecureCookies      bool
	SessionTTL         time.Duration
	SessionStore       string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	StoreTimeout       time.Duration
	BcryptCost         int
	LinkPolicy         users.LinkPolicy
	CORSAllowedOrigins []string
	GoogleClientID     string
	GoogleJWKSURL      string
	AppleClientID      string
	AppleJWKSURL       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.secure_cookie", true)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("session.store", SessionStoreDatabase)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("store.timeout", defaultStoreTimeout)
	configViper.SetDefault("password.bcrypt_cost", 0)
	configViper.SetDefault("identity.link_policy", string(users.LinkAutomatic))
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("google.jwks_url", "")
	configViper.SetDefault("apple.jwks_url", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	policy, err := users.ParseLinkPolicy(configViper.GetString("identity.link_policy"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("identity.link_policy: %w", err)
	}

	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("session.signing_secret"),
		SessionIssuer:      configViper.GetString("session.issuer"),
		SessionCookieName:  configViper.GetString("session.cookie_name"),
		SecureCookies:      configViper.GetBool("session.secure_cookie"),
		SessionTTL:         configViper.GetDuration("session.ttl"),
		SessionStore:       strings.ToLower(strings.TrimSpace(configViper.GetString("session.store"))),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		StoreTimeout:       configViper.GetDuration("store.timeout"),
		BcryptCost:         configViper.GetInt("password.bcrypt_cost"),
		LinkPolicy:         policy,
		CORSAllowedOrigins: splitList(configViper.GetStringSlice("cors.allowed_origins")),
		GoogleClientID:     strings.TrimSpace(configViper.GetString("google.client_id")),
		GoogleJWKSURL:      strings.TrimSpace(configViper.GetString("google.jwks_url")),
		AppleClientID:      strings.TrimSpace(configViper.GetString("apple.client_id")),
		AppleJWKSURL:       strings.TrimSpace(configViper.GetString("apple.jwks_url")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// EnabledProviders lists the external providers with a configured client id.
func (c AppConfig) EnabledProviders() []string {
	var providers []string
	if c.GoogleClientID != "" {
		providers = append(providers, users.ProviderGoogle)
	}
	if c.AppleClientID != "" {
		providers = append(providers, users.ProviderApple)
	}
	return providers
}

func (c AppConfig) validate() error {
	if len(strings.TrimSpace(c.SigningSecret)) < minSigningSecretSize {
		return fmt.Errorf("session.signing_secret is required and must be at least %d characters", minSigningSecretSize)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store.timeout must be positive")
	}
	switch c.SessionStore {
	case SessionStoreDatabase:
	case SessionStoreRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required when session.store is redis")
		}
	default:
		return fmt.Errorf("session.store must be %q or %q, got %q", SessionStoreDatabase, SessionStoreRedis, c.SessionStore)
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated value, as env vars produce.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
