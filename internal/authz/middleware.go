package authz

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/gin-gonic/gin"
)

const accountContextKey = "gatekeeper_account"

// TokenExtractor pulls the session token out of a request.
type TokenExtractor func(c *gin.Context) string

// CookieOrBearer reads the session cookie and falls back to an Authorization bearer header.
func CookieOrBearer(cookieName string) TokenExtractor {
	return func(c *gin.Context) string {
		if value, err := c.Cookie(cookieName); err == nil && strings.TrimSpace(value) != "" {
			return value
		}
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
}

// Authenticated aborts requests without a valid session and stores the account on the context.
func (g *Gate) Authenticated(extract TokenExtractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := g.RequireAuthenticated(c.Request.Context(), extract(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(accountContextKey, account)
		c.Next()
	}
}

// RequireRoleMiddleware aborts requests whose session lacks role.
func (g *Gate) RequireRoleMiddleware(extract TokenExtractor, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := g.RequireRole(c.Request.Context(), extract(c), role)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(accountContextKey, account)
		c.Next()
	}
}

// AccountFromContext returns the account attached by Authenticated or RequireRoleMiddleware.
func AccountFromContext(c *gin.Context) (users.Account, bool) {
	value, ok := c.Get(accountContextKey)
	if !ok {
		return users.Account{}, false
	}
	account, ok := value.(users.Account)
	return account, ok
}

func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, users.ErrStoreUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service_unavailable"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
