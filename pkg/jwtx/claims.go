package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type discriminators carried in the "type" claim. Verification always
// checks the discriminator so an access token can never be replayed as a
// refresh token or vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Default token TTL constants.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	// Short-lived for security - typical range is 15m to 1h.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	// Longer-lived for user convenience.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	// DefaultLeeway is the clock-skew tolerance applied to exp/nbf checks.
	DefaultLeeway = 30 * time.Second
)

// Claims are the token claims used across services. Access tokens carry
// denormalized display claims (username, email) so resource services can
// render an identity without a user lookup; refresh tokens deliberately
// carry neither.
type Claims struct {
	jwt.RegisteredClaims

	// TokenType discriminates "access" from "refresh".
	TokenType string `json:"type"`

	// Username for the authenticated user (access tokens only).
	Username string `json:"username,omitempty"`

	// Email for the authenticated user (access tokens only).
	Email string `json:"email,omitempty"`
}

// NewAccessClaims builds claims for an access token.
func NewAccessClaims(
	subject, issuer string,
	audience []string,
	username, email string,
	ttl time.Duration,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		TokenType: TokenTypeAccess,
		Username:  username,
		Email:     email,
	}
}

// NewRefreshClaims builds claims for a refresh token. The audience is the
// issuer itself: refresh tokens are only ever redeemed at the auth service.
func NewRefreshClaims(subject, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		TokenType: TokenTypeRefresh,
	}
}

// NewJTI returns a unique identifier for the "jti" claim.
func NewJTI() string {
	return uuid.NewString()
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		for _, have := range c.Audience {
			if have == want {
				return nil
			}
		}
	}

	return ErrAudience
}

// ValidateType checks the token type discriminator.
func (c *Claims) ValidateType(expected string) error {
	if c.TokenType != expected {
		return ErrTypeMismatch
	}
	return nil
}

// ValidateExpiryWithLeeway ensures the token hasn't expired (exp) and isn't
// used before it is valid (nbf), with a grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
