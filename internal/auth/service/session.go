package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/notevault/auth/internal/auth/domain"
	"github.com/notevault/auth/internal/auth/metrics"
	"github.com/notevault/auth/internal/auth/store"
	"github.com/notevault/auth/pkg/cryptox"
	"github.com/notevault/auth/pkg/idx"
	"github.com/notevault/auth/pkg/jwtx"
	"github.com/notevault/auth/pkg/slogx"
)

// DefaultSessionCap is the maximum number of live sessions per user. The
// oldest session lineage is revoked when a login would exceed it.
const DefaultSessionCap = 10

// SessionService manages refresh token lineages. Each login starts a
// session; every refresh rotates the token within that session. A session
// dies when its current token expires, is revoked, or a spent token from the
// lineage is presented again.
type SessionService struct {
	Store   store.Store
	Tokens  *TokenService
	Metrics *metrics.Metrics

	// SessionCap limits live sessions per user; zero means DefaultSessionCap.
	SessionCap int
}

func (s *SessionService) cap() int {
	if s.SessionCap > 0 {
		return s.SessionCap
	}
	return DefaultSessionCap
}

// Start opens a new session for the user: issues a token pair and persists
// the refresh fingerprint under a fresh session id. deviceInfo is the client
// User-Agent, kept on the lineage so a user can tell sessions apart. When the
// user is at the session cap, the oldest lineage is revoked first.
func (s *SessionService) Start(ctx context.Context, u domain.User, deviceInfo string, now time.Time) (*domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	if err := s.enforceCap(ctx, u.ID, now); err != nil {
		return nil, err
	}

	sessionID := idx.New().String()
	pair, rt, err := s.issuePair(u, sessionID, deviceInfo, now)
	if err != nil {
		return nil, err
	}

	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return nil, err
	}

	l.Info("session started",
		slog.String("user_id", u.ID),
		slog.String("session_id", sessionID),
	)
	return pair, nil
}

// Redeem rotates a refresh token: the presented token is spent and a
// successor in the same lineage is issued. Presenting an already-spent token
// is treated as theft evidence and revokes the whole lineage.
func (s *SessionService) Redeem(ctx context.Context, rawToken string) (*domain.TokenPair, error) {
	l := slogx.FromContext(ctx)
	now := time.Now().UTC()

	claims, err := s.Tokens.VerifyRefreshToken(rawToken)
	if err != nil {
		s.Metrics.RefreshFailure()
		return nil, ErrInvalidRefresh
	}

	fp := cryptox.FingerprintToken(rawToken)
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		s.Metrics.RefreshFailure()
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	if rt.Revoked {
		// Reuse of a spent token. Someone, possibly not the session
		// owner, holds an old token: kill the entire lineage.
		s.revokeLineage(ctx, rt, "refresh token reuse detected")
		s.Metrics.ReuseDetected()
		s.Metrics.RefreshFailure()
		return nil, ErrInvalidRefresh
	}

	if rt.IsExpired(now) {
		s.Metrics.RefreshFailure()
		return nil, ErrInvalidRefresh
	}

	u, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
	if err != nil {
		s.Metrics.RefreshFailure()
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	if !u.IsActive {
		s.Metrics.RefreshFailure()
		return nil, ErrAccountInactive
	}

	// The successor inherits the lineage's device info.
	pair, successor, err := s.issuePair(u, rt.SessionID, rt.DeviceInfo, now)
	if err != nil {
		return nil, err
	}

	// Spend the old token and insert its successor atomically. The
	// conditional update decides concurrent redemptions of the same
	// token: the loser sees redeemed=false.
	var reused bool
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		redeemed, err := tx.RefreshTokens().RedeemRefreshToken(ctx, fp)
		if err != nil {
			return err
		}
		if !redeemed {
			reused = true
			return ErrInvalidRefresh
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, successor)
	})
	if reused {
		s.revokeLineage(ctx, rt, "concurrent refresh token redemption")
		s.Metrics.ReuseDetected()
	}
	if err != nil {
		s.Metrics.RefreshFailure()
		return nil, err
	}

	l.Info("refresh token rotated",
		slog.String("user_id", u.ID),
		slog.String("session_id", rt.SessionID),
	)
	s.Metrics.RefreshSuccess()
	return pair, nil
}

// Revoke ends the session of the presented refresh token. The token's
// signature must verify and it must belong to userID, but an expired or
// already-revoked token still revokes its lineage; logout should never fail
// for being late.
func (s *SessionService) Revoke(ctx context.Context, userID, rawToken string) error {
	claims, err := s.Tokens.VerifyRefreshToken(rawToken)
	if err != nil {
		// Accept expired tokens for logout, reject everything else.
		if !errors.Is(err, jwtx.ErrExpired) {
			return ErrInvalidRefresh
		}
	}
	if claims != nil && claims.Subject != userID {
		return ErrInvalidRefresh
	}

	fp := cryptox.FingerprintToken(rawToken)
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidRefresh
		}
		return err
	}
	if rt.UserID != userID {
		return ErrInvalidRefresh
	}

	return s.Store.RefreshTokens().RevokeSessionRefreshTokens(ctx, rt.SessionID)
}

// RevokeAll ends every session the user holds.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) error {
	return s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID)
}

// issuePair issues an access+refresh pair and builds the refresh record for
// the given session lineage.
func (s *SessionService) issuePair(u domain.User, sessionID, deviceInfo string, now time.Time) (*domain.TokenPair, domain.RefreshToken, error) {
	access, err := s.Tokens.IssueAccessToken(u, now)
	if err != nil {
		return nil, domain.RefreshToken{}, err
	}

	refresh, claims, err := s.Tokens.IssueRefreshToken(u, now)
	if err != nil {
		return nil, domain.RefreshToken{}, err
	}

	rt := domain.RefreshToken{
		ID:         idx.New().String(),
		UserID:     u.ID,
		TokenHash:  cryptox.FingerprintToken(refresh),
		SessionID:  sessionID,
		DeviceInfo: deviceInfo,
		ExpiresAt:  claims.ExpiresAt.Time,
		Revoked:    false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	pair := &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.Tokens.AccessTTL.Seconds()),
	}
	return pair, rt, nil
}

// enforceCap revokes the oldest session lineage when the user is at the cap.
func (s *SessionService) enforceCap(ctx context.Context, userID string, now time.Time) error {
	l := slogx.FromContext(ctx)

	count, err := s.Store.RefreshTokens().CountActiveSessions(ctx, userID, now)
	if err != nil {
		return err
	}
	if count < s.cap() {
		return nil
	}

	oldest, err := s.Store.RefreshTokens().OldestActiveSessionID(ctx, userID, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	l.Info("session cap reached, evicting oldest session",
		slog.String("user_id", userID),
		slog.String("session_id", oldest),
	)
	return s.Store.RefreshTokens().RevokeSessionRefreshTokens(ctx, oldest)
}

func (s *SessionService) revokeLineage(ctx context.Context, rt domain.RefreshToken, reason string) {
	l := slogx.FromContext(ctx)
	l.Warn(reason,
		slog.String("user_id", rt.UserID),
		slog.String("session_id", rt.SessionID),
	)
	if err := s.Store.RefreshTokens().RevokeSessionRefreshTokens(ctx, rt.SessionID); err != nil {
		l.Error("failed to revoke session lineage",
			slog.Any("error", err),
			slog.String("session_id", rt.SessionID),
		)
	}
}
