package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates an RS256 JWT and gives you back the claims if it's
// legit. The parser is pinned to RS256 so a token claiming alg=none or an
// HMAC downgrade is rejected before any key lookup.
type Verifier struct {
	keys   *KeySet
	issuer string
	aud    []string
	leeway time.Duration
}

// NewVerifier creates a verifier against a KeySet of RSA public keys.
// An empty issuer or audience means "don't care".
func NewVerifier(keys *KeySet, issuer string, aud []string) *Verifier {
	return &Verifier{
		keys:   keys,
		issuer: issuer,
		aud:    aud,
		leeway: DefaultLeeway,
	}
}

// WithLeeway overrides the clock-skew tolerance for exp/nbf checks.
func (v *Verifier) WithLeeway(d time.Duration) *Verifier {
	v.leeway = d
	return v
}

// Verify validates the JWT string and returns its parsed Claims. The token
// must carry the expected type discriminator ("access" or "refresh").
//
// Failures map onto the package's typed errors so callers can distinguish
// "expired" from "forged" without string matching.
func (v *Verifier) Verify(tokenStr, expectedType string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		// Claim checks run below with configurable leeway and typed errors.
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		// Need the kid to know which key to use
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKID
		}

		pub, err := v.keys.Get(kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
		}
		return pub, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidClaim
	}

	// Now check all the claim requirements
	if err := claims.ValidateExpiryWithLeeway(v.leeway); err != nil {
		return nil, err
	}
	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return nil, err
	}
	if err := claims.ValidateAudience(v.aud); err != nil {
		return nil, err
	}
	if err := claims.ValidateType(expectedType); err != nil {
		return nil, err
	}

	return claims, nil
}

// classifyParseError maps golang-jwt parse failures onto our sentinels.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrMissingKID),
		errors.Is(err, ErrUnknownKID):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// Typically an algorithm the parser refuses to accept.
		return fmt.Errorf("%w: %v", ErrAlgNotAllowed, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	}
}
