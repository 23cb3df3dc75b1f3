package service

import (
	"fmt"
	"time"

	"github.com/notevault/auth/internal/auth/domain"
	"github.com/notevault/auth/pkg/jwtx"
)

// TokenService issues and verifies the service's JWTs. Both access and
// refresh tokens are RS256 JWTs signed by the keychain's active key; the
// "type" claim keeps the two from being interchangeable.
type TokenService struct {
	KeyChain *jwtx.KeyChain
	Issuer   string
	Audience []string // audiences stamped into access tokens

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	accessVerifier  *jwtx.Verifier
	refreshVerifier *jwtx.Verifier
}

// NewTokenService wires verifiers against the keychain's key set. Refresh
// tokens are audience-bound to the issuer itself: only the auth service
// redeems them.
func NewTokenService(kc *jwtx.KeyChain, issuer string, audience []string, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = jwtx.DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = jwtx.DefaultRefreshTokenTTL
	}

	return &TokenService{
		KeyChain:        kc,
		Issuer:          issuer,
		Audience:        audience,
		AccessTTL:       accessTTL,
		RefreshTTL:      refreshTTL,
		accessVerifier:  jwtx.NewVerifier(kc.KeySet(), issuer, nil),
		refreshVerifier: jwtx.NewVerifier(kc.KeySet(), issuer, []string{issuer}),
	}
}

// AccessVerifier exposes the access-token verifier for HTTP middleware.
func (s *TokenService) AccessVerifier() *jwtx.Verifier {
	return s.accessVerifier
}

// IssueAccessToken signs a short-lived access token for the user.
func (s *TokenService) IssueAccessToken(u domain.User, now time.Time) (string, error) {
	signer := s.KeyChain.ActiveSigner()
	if signer == nil {
		return "", fmt.Errorf("service: no active signing key")
	}

	claims := jwtx.NewAccessClaims(u.ID, s.Issuer, s.Audience, u.Username, u.Email, s.AccessTTL, now)
	return signer.Sign(claims)
}

// IssueRefreshToken signs a refresh token for the user and returns it with
// its claims, so the caller can persist the fingerprint record.
func (s *TokenService) IssueRefreshToken(u domain.User, now time.Time) (string, jwtx.Claims, error) {
	signer := s.KeyChain.ActiveSigner()
	if signer == nil {
		return "", jwtx.Claims{}, fmt.Errorf("service: no active signing key")
	}

	claims := jwtx.NewRefreshClaims(u.ID, s.Issuer, s.RefreshTTL, now)
	token, err := signer.Sign(claims)
	if err != nil {
		return "", jwtx.Claims{}, err
	}
	return token, claims, nil
}

// VerifyAccessToken validates an access token end to end.
func (s *TokenService) VerifyAccessToken(token string) (*jwtx.Claims, error) {
	return s.accessVerifier.Verify(token, jwtx.TokenTypeAccess)
}

// VerifyRefreshToken validates a refresh token's signature and claims. The
// store-side revocation state is the session manager's concern.
func (s *TokenService) VerifyRefreshToken(token string) (*jwtx.Claims, error) {
	return s.refreshVerifier.Verify(token, jwtx.TokenTypeRefresh)
}
