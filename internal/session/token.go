package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultIssuer = "gatekeeper"

var (
	errMissingSigningSecret = errors.New("session: signing secret must be provided")
	errMissingClaims        = errors.New("session: subject and session id claims must be provided")
)

// CodecConfig configures the HS256 token codec.
type CodecConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// Codec signs and parses session tokens. The token carries the account id as sub and the
// session id as jti.
type Codec struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// Claims is the decoded payload of a session token.
type Claims struct {
	AccountID string
	SessionID string
	ExpiresAt time.Time
}

// NewCodec constructs a Codec.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Codec{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// Issue signs a token for the session.
func (c *Codec) Issue(claims Claims) (string, error) {
	if claims.AccountID == "" || claims.SessionID == "" {
		return "", errMissingClaims
	}
	now := c.clock().UTC()
	registered := jwt.RegisteredClaims{
		ID:        claims.SessionID,
		Subject:   claims.AccountID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt.UTC()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, registered).SignedString(c.signingSecret)
}

// Parse verifies signature, issuer and expiry.
func (c *Codec) Parse(tokenString string) (Claims, error) {
	return c.parse(tokenString, jwt.WithTimeFunc(c.clock))
}

// ParseIgnoringExpiry verifies signature and issuer but accepts expired tokens. Logout uses it
// so that an expired token can still revoke its stored session.
func (c *Codec) ParseIgnoringExpiry(tokenString string) (Claims, error) {
	return c.parse(tokenString, jwt.WithoutClaimsValidation())
}

func (c *Codec) parse(tokenString string, options ...jwt.ParserOption) (Claims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Claims{}, ErrInvalidSession
	}

	registered := &jwt.RegisteredClaims{}
	options = append(options, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := jwt.ParseWithClaims(token, registered, func(*jwt.Token) (interface{}, error) {
		return c.signingSecret, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredSession
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if parsed == nil || !parsed.Valid {
		return Claims{}, ErrInvalidSession
	}
	if registered.Issuer != c.issuer {
		return Claims{}, fmt.Errorf("%w: unexpected issuer", ErrInvalidSession)
	}
	if registered.Subject == "" || registered.ID == "" || registered.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidSession, errMissingClaims)
	}
	return Claims{
		AccountID: registered.Subject,
		SessionID: registered.ID,
		ExpiresAt: registered.ExpiresAt.Time,
	}, nil
}
