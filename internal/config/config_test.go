package config

import (
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
)

const testSigningSecret = "0123456789abcdef0123456789abcdef"

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", testSigningSecret)

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.StoreTimeout != 5*time.Second {
		t.Fatalf("unexpected durations ttl=%s timeout=%s", cfg.SessionTTL, cfg.StoreTimeout)
	}
	if cfg.SessionStore != SessionStoreDatabase || cfg.LinkPolicy != users.LinkAutomatic {
		t.Fatalf("unexpected store %q or policy %q", cfg.SessionStore, cfg.LinkPolicy)
	}
	if !cfg.SecureCookies {
		t.Fatalf("expected secure session cookies by default")
	}
	if providers := cfg.EnabledProviders(); len(providers) != 0 {
		t.Fatalf("expected no providers without client ids, got %v", providers)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("GATEKEEPER_SESSION_SIGNING_SECRET", testSigningSecret)
	t.Setenv("GATEKEEPER_SESSION_TTL", "2h")
	t.Setenv("GATEKEEPER_SESSION_STORE", "Redis")
	t.Setenv("GATEKEEPER_IDENTITY_LINK_POLICY", "verified_email")
	t.Setenv("GATEKEEPER_CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("GATEKEEPER_GOOGLE_CLIENT_ID", "google-client")
	t.Setenv("GATEKEEPER_APPLE_CLIENT_ID", "com.example.web")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("expected ttl from env, got %s", cfg.SessionTTL)
	}
	if cfg.SessionStore != SessionStoreRedis {
		t.Fatalf("expected redis store, got %q", cfg.SessionStore)
	}
	if cfg.LinkPolicy != users.LinkRequireVerifiedEmail {
		t.Fatalf("expected verified_email policy, got %q", cfg.LinkPolicy)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if providers := cfg.EnabledProviders(); len(providers) != 2 {
		t.Fatalf("expected both providers enabled, got %v", providers)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	testCases := []struct {
		name     string
		settings map[string]any
		fragment string
	}{
		{name: "missing secret", settings: map[string]any{}, fragment: "session.signing_secret"},
		{name: "short secret", settings: map[string]any{"session.signing_secret": "short"}, fragment: "session.signing_secret"},
		{name: "unknown store", settings: map[string]any{"session.store": "memcached"}, fragment: "session.store"},
		{name: "redis without address", settings: map[string]any{"session.store": "redis", "redis.address": ""}, fragment: "redis.address"},
		{name: "unknown link policy", settings: map[string]any{"identity.link_policy": "never"}, fragment: "identity.link_policy"},
		{name: "zero ttl", settings: map[string]any{"session.ttl": "0s"}, fragment: "session.ttl"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			if testCase.name != "missing secret" && testCase.name != "short secret" {
				configViper.Set("session.signing_secret", testSigningSecret)
			}
			for key, value := range testCase.settings {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), testCase.fragment) {
				t.Fatalf("expected %q in %q", testCase.fragment, err.Error())
			}
		})
	}
}
