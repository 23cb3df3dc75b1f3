package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/notevault/auth/internal/auth/store"
	"github.com/notevault/auth/pkg/jwtx"
)

// DefaultAttemptRetention is how long login attempt audit records are kept.
const DefaultAttemptRetention = 90 * 24 * time.Hour

// HousekeepingService periodically cleans up expired database records to
// prevent unbounded growth of refresh_tokens, signing_keys, and
// login_attempts.
type HousekeepingService struct {
	Store            store.Store
	KeyChain         *jwtx.KeyChain
	Logger           *slog.Logger
	Interval         time.Duration
	AttemptRetention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping worker. If interval is 0 or
// negative, defaults to 1 hour.
func NewHousekeepingService(st store.Store, kc *jwtx.KeyChain, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:            st,
		KeyChain:         kc,
		Logger:           logger,
		Interval:         interval,
		AttemptRetention: DefaultAttemptRetention,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking; call Stop() for a graceful shutdown.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts down the background worker, blocking until any in-progress
// cleanup finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup deletes expired records. Each deletion is independent; a failure
// in one doesn't stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
	} else if n > 0 {
		s.Logger.Info("deleted expired refresh tokens", "count", n)
	}

	if n, err := s.Store.SigningKeys().DeleteExpiredSigningKeys(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired signing keys", "error", err)
	} else if n > 0 {
		s.Logger.Info("deleted expired signing keys", "count", n)

		// Drop the purged keys from the in-memory set and JWKS.
		if s.KeyChain != nil {
			if err := s.KeyChain.Reload(ctx); err != nil {
				s.Logger.Error("failed to reload keychain after purge", "error", err)
			}
		}
	}

	cutoff := now.Add(-s.AttemptRetention)
	if n, err := s.Store.LoginAttempts().DeleteOldLoginAttempts(ctx, cutoff); err != nil {
		s.Logger.Error("failed to delete old login attempts", "error", err)
	} else if n > 0 {
		s.Logger.Info("deleted old login attempts", "count", n)
	}
}
