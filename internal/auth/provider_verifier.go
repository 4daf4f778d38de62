// Package auth verifies ID tokens issued by external identity providers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultJWKSCacheTTL = 10 * time.Minute

	// GoogleJWKSURL publishes the keys that sign Google ID tokens.
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	// AppleJWKSURL publishes the keys that sign Sign in with Apple ID tokens.
	AppleJWKSURL = "https://appleid.apple.com/auth/keys"
)

var (
	// ErrInvalidIDToken indicates the provider ID token failed verification.
	ErrInvalidIDToken = errors.New("auth: invalid id token")
	// ErrInvalidVerifierConfig indicates the verifier was constructed with unusable settings.
	ErrInvalidVerifierConfig = errors.New("auth: invalid provider verifier config")

	errMissingToken          = errors.New("id token must not be empty")
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errKeyNotFound           = errors.New("signing key not found in JWKS")
	errUntrustedIssuer       = errors.New("token issuer not allowed")
	errMissingSubject        = errors.New("token missing subject claim")
	errMissingProvider       = errors.New("provider name required")
	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errNoAllowedIssuers      = errors.New("no allowed issuers configured")
)

var defaultIssuers = map[string][]string{
	users.ProviderGoogle: {"https://accounts.google.com", "accounts.google.com"},
	users.ProviderApple:  {"https://appleid.apple.com"},
}

var defaultJWKSURLs = map[string]string{
	users.ProviderGoogle: GoogleJWKSURL,
	users.ProviderApple:  AppleJWKSURL,
}

// ProviderVerifierConfig bundles configuration required to instantiate a ProviderVerifier.
// JWKSURL and AllowedIssuers default to the published values for google and apple.
type ProviderVerifierConfig struct {
	Provider       string
	Audience       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// Profile is the identity carried by a verified provider ID token.
type Profile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Expiry        time.Time
}

// Assertion converts the profile into an identity assertion carrying the upstream tokens.
// Tokens without an expiry inherit the ID token's exp.
func (p Profile) Assertion(tokens users.ProviderTokens) users.ExternalAssertion {
	if tokens.Expiry == nil && !p.Expiry.IsZero() {
		expiry := p.Expiry.UTC()
		tokens.Expiry = &expiry
	}
	return users.ExternalAssertion{
		Provider:      p.Provider,
		SubjectID:     p.Subject,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		Name:          p.Name,
		Picture:       p.Picture,
		Tokens:        tokens,
	}
}

type idTokenClaims struct {
	Email         string       `json:"email"`
	EmailVerified flexibleBool `json:"email_verified"`
	Name          string       `json:"name"`
	Picture       string       `json:"picture"`
	jwt.RegisteredClaims
}

// flexibleBool accepts both JSON booleans and the quoted "true"/"false" strings Apple emits.
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	var boolean bool
	if err := json.Unmarshal(data, &boolean); err == nil {
		*b = flexibleBool(boolean)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("email_verified: %w", err)
	}
	*b = flexibleBool(strings.EqualFold(strings.TrimSpace(text), "true"))
	return nil
}

// ProviderVerifier verifies RS256 ID tokens offline against the provider's cached JWKS.
type ProviderVerifier struct {
	provider string
	audience string
	issuers  map[string]struct{}
	keys     *keySet
	clock    func() time.Time
	logger   *zap.Logger
}

// NewProviderVerifier constructs a verifier with validated configuration.
func NewProviderVerifier(cfg ProviderVerifierConfig) (*ProviderVerifier, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingProvider)
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		jwksURL = defaultJWKSURLs[provider]
	}
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}

	allowed := cfg.AllowedIssuers
	if allowed == nil {
		allowed = defaultIssuers[provider]
	}
	issuers := make(map[string]struct{}, len(allowed))
	for _, issuer := range allowed {
		if normalized := strings.TrimSpace(issuer); normalized != "" {
			issuers[normalized] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errNoAllowedIssuers)
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultJWKSCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ProviderVerifier{
		provider: provider,
		audience: audience,
		issuers:  issuers,
		keys:     newKeySet(jwksURL, httpClient, cacheTTL, logger),
		clock:    clock,
		logger:   logger,
	}, nil
}

// Provider returns the provider name the verifier was configured for.
func (v *ProviderVerifier) Provider() string {
	return v.provider
}

// Verify validates the ID token and returns the profile it asserts.
func (v *ProviderVerifier) Verify(ctx context.Context, rawToken string) (Profile, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, errMissingToken)
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.keys.lookup(ctx, keyID, v.clock())
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if _, allowed := v.issuers[claims.Issuer]; !allowed {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, errUntrustedIssuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, errMissingSubject)
	}

	return Profile{
		Provider:      v.provider,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		Name:          claims.Name,
		Picture:       claims.Picture,
		Expiry:        claims.ExpiresAt.Time,
	}, nil
}
