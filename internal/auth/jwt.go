package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionIssuer is stamped into every session token's "iss" claim and
// required back on verification, so tokens minted by other services
// sharing a secret are not accepted here.
const sessionIssuer = "floodgate"

// SessionClaims holds the JWT claims for an operator session.
// The operator login name is stored in the standard "sub" (Subject) claim.
type SessionClaims struct {
	Tenant string `json:"tenant,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Operator returns the subject (operator login name) from the token.
func (c *SessionClaims) Operator() string {
	return c.Subject
}

// SessionService issues and verifies operator session JWTs. These back the
// admin surface that sits outside this module; it consumes the service at
// its boundary. Device and tenant authentication do not use JWTs.
type SessionService struct {
	secret   []byte
	duration time.Duration
}

// NewSessionService creates a session service with the given HMAC secret
// and session lifetime.
func NewSessionService(secret []byte, duration time.Duration) *SessionService {
	return &SessionService{
		secret:   secret,
		duration: duration,
	}
}

// Issue creates a signed session token for an operator, optionally scoped
// to a single tenant (empty tenant means all tenants).
func (s *SessionService) Issue(operator, tenant, role string) (string, time.Time, error) {
	if tenant != "" && !ValidTenantName(tenant) {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTenantName, tenant)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.duration)

	claims := SessionClaims{
		Tenant: tenant,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify parses and validates a session token, returning the claims if
// valid. The parser pins the signing algorithm, requires an expiry, and
// requires the issuer stamped by Issue.
func (s *SessionService) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{},
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("session token rejected: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("session token carries no usable claims")
	}

	return claims, nil
}
