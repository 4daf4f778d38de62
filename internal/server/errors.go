package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/gatekeeper/internal/auth"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/authz"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/credentials"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/identity"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/session"
	"github.com/MarcoPoloResearchLab/gatekeeper/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is ordered; the first matching sentinel decides the response.
var errorMappings = []errorMapping{
	{target: credentials.ErrValidation, status: http.StatusBadRequest, code: "invalid_request"},
	{target: identity.ErrInvalidRole, status: http.StatusBadRequest, code: "invalid_request"},
	{target: users.ErrInvalidAssertion, status: http.StatusBadRequest, code: "invalid_request"},
	{target: users.ErrUnknownProvider, status: http.StatusBadRequest, code: "unknown_provider"},
	{target: credentials.ErrAccountExists, status: http.StatusConflict, code: "account_exists"},
	{target: users.ErrProviderLinkTaken, status: http.StatusConflict, code: "provider_conflict"},
	{target: users.ErrProviderAlreadyLinked, status: http.StatusConflict, code: "provider_conflict"},
	{target: users.ErrLinkConfirmationRequired, status: http.StatusConflict, code: "link_confirmation_required"},
	{target: users.ErrConflict, status: http.StatusConflict, code: "conflict"},
	{target: credentials.ErrInvalidCredentials, status: http.StatusUnauthorized, code: "invalid_credentials"},
	{target: credentials.ErrNoPasswordChannel, status: http.StatusUnauthorized, code: "no_password_channel"},
	{target: users.ErrMissingEmailClaim, status: http.StatusUnauthorized, code: "missing_email"},
	{target: auth.ErrInvalidIDToken, status: http.StatusUnauthorized, code: "invalid_id_token"},
	{target: authz.ErrUnauthenticated, status: http.StatusUnauthorized, code: "unauthorized"},
	{target: authz.ErrForbidden, status: http.StatusForbidden, code: "forbidden"},
	{target: users.ErrAccountNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: users.ErrStoreUnavailable, status: http.StatusServiceUnavailable, code: "service_unavailable"},
}

func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			status, code = mapping.status, mapping.code
			break
		}
	}

	level := zapcore.InfoLevel
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		level = zapcore.ErrorLevel
	case status == http.StatusServiceUnavailable:
		level = zapcore.WarnLevel
	}
	if entry := h.logger.Check(level, "request failed"); entry != nil {
		entry.Write(
			zap.String("operation", operation),
			zap.String("reason", code),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": code})
}

func isUnauthenticated(err error) bool {
	return errors.Is(err, authz.ErrUnauthenticated) ||
		errors.Is(err, session.ErrExpiredSession) ||
		errors.Is(err, session.ErrInvalidSession)
}
