package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/authz"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/identity"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type providerLoginRequestPayload struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	// Name is supplied by clients for providers that only share it on the first authorization.
	Name string `json:"name"`
}

type accountPayload struct {
	ID        string   `json:"id,omitempty"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Picture   string   `json:"picture,omitempty"`
	Roles     []string `json:"roles"`
	Providers []string `json:"providers"`
}

type loginResponsePayload struct {
	Account     accountPayload `json:"account"`
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
}

type statusResponsePayload struct {
	Authenticated bool            `json:"authenticated"`
	Account       *accountPayload `json:"account,omitempty"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	login, err := h.identity.Register(c.Request.Context(), request.Name, request.Email, request.Password)
	if err != nil {
		h.writeError(c, "register", err)
		return
	}
	h.respondWithLogin(c, http.StatusCreated, login)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	login, err := h.identity.LoginLocal(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeError(c, "login", err)
		return
	}
	h.respondWithLogin(c, http.StatusOK, login)
}

func (h *httpHandler) handleProviderLogin(provider string) gin.HandlerFunc {
	verifier := h.verifiers[provider]
	return func(c *gin.Context) {
		var request providerLoginRequestPayload
		if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}

		profile, err := verifier.Verify(c.Request.Context(), request.IDToken)
		if err != nil {
			h.writeError(c, provider+"_login", err)
			return
		}
		if profile.Name == "" {
			profile.Name = strings.TrimSpace(request.Name)
		}

		tokens := users.ProviderTokens{
			AccessToken:  request.AccessToken,
			RefreshToken: request.RefreshToken,
			IDToken:      request.IDToken,
			TokenType:    request.TokenType,
			Scope:        request.Scope,
		}
		if request.ExpiresIn > 0 {
			expiry := h.clock().UTC().Add(time.Duration(request.ExpiresIn) * time.Second)
			tokens.Expiry = &expiry
		}

		login, err := h.identity.LoginExternal(c.Request.Context(), profile.Assertion(tokens))
		if err != nil {
			h.writeError(c, provider+"_login", err)
			return
		}
		h.respondWithLogin(c, http.StatusOK, login)
	}
}

func (h *httpHandler) handleMe(c *gin.Context) {
	account, ok := authz.AccountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, newAccountPayload(account))
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	token := h.sessionToken(c)
	if token == "" {
		c.JSON(http.StatusOK, statusResponsePayload{Authenticated: false})
		return
	}
	account, err := h.identity.CurrentAccount(c.Request.Context(), token)
	if err != nil {
		if isUnauthenticated(err) {
			c.JSON(http.StatusOK, statusResponsePayload{Authenticated: false})
			return
		}
		h.writeError(c, "status", err)
		return
	}
	payload := newAccountPayload(account)
	c.JSON(http.StatusOK, statusResponsePayload{Authenticated: true, Account: &payload})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if token := h.sessionToken(c); token != "" {
		if err := h.identity.Logout(c.Request.Context(), token); err != nil {
			h.writeError(c, "logout", err)
			return
		}
	}
	h.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLookupAccount(c *gin.Context) {
	account, err := h.identity.LookupAccount(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.writeError(c, "lookup_account", err)
		return
	}
	payload := newAccountPayload(account)
	payload.ID = ""
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) respondWithLogin(c *gin.Context, status int, login identity.Login) {
	expiresIn := int64(login.Session.ExpiresAt.Sub(h.clock()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	h.setSessionCookie(c, login.Session.Value, int(expiresIn))
	h.logger.Info("session established", zap.String("account_id", login.Account.ID))
	c.JSON(status, loginResponsePayload{
		Account:     newAccountPayload(login.Account),
		AccessToken: login.Session.Value,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) sessionToken(c *gin.Context) string {
	return authz.CookieOrBearer(h.cookieName)(c)
}

func (h *httpHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, value, maxAge, "/", "", h.secureCookies, true)
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", h.secureCookies, true)
}

func newAccountPayload(account users.Account) accountPayload {
	providers := make([]string, 0, len(account.Links))
	for _, link := range account.Links {
		providers = append(providers, link.Provider)
	}
	return accountPayload{
		ID:        account.ID,
		Email:     account.Email,
		Name:      account.Name,
		Picture:   account.Picture,
		Roles:     account.RoleNames(),
		Providers: providers,
	}
}
