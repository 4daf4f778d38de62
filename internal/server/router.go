// Package server exposes the identity facade over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/auth"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/authz"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/identity"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingIdentityService = errors.New("identity service dependency required")
	errMissingGate            = errors.New("authorization gate dependency required")
	errMissingCookieName      = errors.New("session cookie name required")
)

// IdentityService is the subset of the identity facade served over HTTP.
type IdentityService interface {
	Register(ctx context.Context, name, email, password string) (identity.Login, error)
	LoginLocal(ctx context.Context, email, password string) (identity.Login, error)
	LoginExternal(ctx context.Context, assertion users.ExternalAssertion) (identity.Login, error)
	CurrentAccount(ctx context.Context, token string) (users.Account, error)
	Logout(ctx context.Context, token string) error
	LookupAccount(ctx context.Context, email string) (users.Account, error)
}

// IDTokenVerifier validates a provider ID token and returns the profile it carries.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.Profile, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Identity IdentityService
	Gate     *authz.Gate
	// Verifiers maps provider names to their ID token verifiers. Providers without a verifier
	// are not routed.
	Verifiers      map[string]IDTokenVerifier
	CookieName     string
	SecureCookies  bool
	AllowedOrigins []string
	Clock          func() time.Time
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the authentication routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Identity == nil {
		return nil, errMissingIdentityService
	}
	if deps.Gate == nil {
		return nil, errMissingGate
	}
	cookieName := strings.TrimSpace(deps.CookieName)
	if cookieName == "" {
		return nil, errMissingCookieName
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(corsMiddleware(deps.AllowedOrigins))
	}

	handler := &httpHandler{
		identity:      deps.Identity,
		verifiers:     make(map[string]IDTokenVerifier, len(deps.Verifiers)),
		cookieName:    cookieName,
		secureCookies: deps.SecureCookies,
		clock:         clock,
		logger:        logger,
	}
	for provider, verifier := range deps.Verifiers {
		if verifier != nil {
			handler.verifiers[strings.ToLower(strings.TrimSpace(provider))] = verifier
		}
	}
	extract := authz.CookieOrBearer(cookieName)

	authGroup := router.Group("/auth")
	authGroup.POST("/register", handler.handleRegister)
	authGroup.POST("/login", handler.handleLogin)
	authGroup.POST("/logout", handler.handleLogout)
	authGroup.GET("/status", handler.handleStatus)
	authGroup.GET("/me", deps.Gate.Authenticated(extract), handler.handleMe)
	for provider := range handler.verifiers {
		authGroup.POST("/"+provider, handler.handleProviderLogin(provider))
	}

	admin := router.Group("/admin")
	admin.Use(deps.Gate.RequireRoleMiddleware(extract, users.RoleAdmin))
	admin.GET("/accounts/:email", handler.handleLookupAccount)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	identity      IdentityService
	verifiers     map[string]IDTokenVerifier
	cookieName    string
	secureCookies bool
	clock         func() time.Time
	logger        *zap.Logger
}
