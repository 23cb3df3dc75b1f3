package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/notevault/auth/internal/auth/domain"
	"github.com/notevault/auth/internal/auth/store"
	"github.com/notevault/auth/internal/auth/store/drivers/sqlite"
	"github.com/notevault/auth/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestUser(t *testing.T, s *sqlite.Store, username, email string) domain.User {
	t.Helper()

	now := time.Now().UTC()
	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$12$fakehashfortesting",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

func newTestRefreshToken(t *testing.T, s *sqlite.Store, userID, sessionID, hash string, expiresAt time.Time) domain.RefreshToken {
	t.Helper()

	now := time.Now().UTC()
	rt := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    userID,
		TokenHash: hash,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(context.Background(), rt))
	return rt
}

func TestUsersCreateAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s, "alice", "alice@example.com")

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Username, got.Username)
	require.Equal(t, u.Email, got.Email)
	require.True(t, got.IsActive)
	require.Nil(t, got.LastLoginAt)

	// Identifier lookup resolves both username and email, case-insensitive.
	byName, err := s.Users().GetUserByIdentifier(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, u.ID, byName.ID)

	byEmail, err := s.Users().GetUserByIdentifier(ctx, "Alice@Example.Com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)

	_, err = s.Users().GetUserByIdentifier(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsersDuplicateReturnsAlreadyExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestUser(t, s, "alice", "alice@example.com")

	now := time.Now().UTC()
	dup := domain.User{
		ID:           idx.New().String(),
		Username:     "Alice", // different case, same NOCASE value
		Email:        "other@example.com",
		PasswordHash: "x",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.ErrorIs(t, s.Users().CreateUser(ctx, dup), store.ErrAlreadyExists)

	dup.Username = "bob"
	dup.Email = "ALICE@EXAMPLE.COM"
	require.ErrorIs(t, s.Users().CreateUser(ctx, dup), store.ErrAlreadyExists)
}

func TestUsersUpdateLastLoginAndActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s, "alice", "alice@example.com")

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Users().UpdateLastLogin(ctx, u.ID, at))

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	require.WithinDuration(t, at, *got.LastLoginAt, time.Second)

	require.NoError(t, s.Users().SetUserActive(ctx, u.ID, false))
	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	require.ErrorIs(t, s.Users().SetUserActive(ctx, "missing", false), store.ErrNotFound)
}

func TestRefreshTokenDeviceInfoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newTestUser(t, s, "alice", "alice@example.com")

	withDevice := domain.RefreshToken{
		ID:         idx.New().String(),
		UserID:     u.ID,
		TokenHash:  "hash-device",
		SessionID:  "sess-device",
		DeviceInfo: "Mozilla/5.0",
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, withDevice))

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-device")
	require.NoError(t, err)
	require.Equal(t, "Mozilla/5.0", got.DeviceInfo)

	// An empty device info is stored as NULL and reads back empty.
	newTestRefreshToken(t, s, u.ID, "sess-plain", "hash-plain", now.Add(time.Hour))
	got, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-plain")
	require.NoError(t, err)
	require.Empty(t, got.DeviceInfo)
}

func TestRefreshTokenRedeemIsSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s, "alice", "alice@example.com")
	expires := time.Now().UTC().Add(time.Hour)
	newTestRefreshToken(t, s, u.ID, "sess-1", "hash-1", expires)

	ok, err := s.RefreshTokens().RedeemRefreshToken(ctx, "hash-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Second redemption of the same token loses.
	ok, err = s.RefreshTokens().RedeemRefreshToken(ctx, "hash-1")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.True(t, got.Revoked)
}

func TestRefreshTokenSessionAndUserRevocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s, "alice", "alice@example.com")
	expires := time.Now().UTC().Add(time.Hour)

	newTestRefreshToken(t, s, u.ID, "sess-1", "hash-1a", expires)
	newTestRefreshToken(t, s, u.ID, "sess-1", "hash-1b", expires)
	newTestRefreshToken(t, s, u.ID, "sess-2", "hash-2a", expires)

	require.NoError(t, s.RefreshTokens().RevokeSessionRefreshTokens(ctx, "sess-1"))

	for _, hash := range []string{"hash-1a", "hash-1b"} {
		got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		require.NoError(t, err)
		require.True(t, got.Revoked, hash)
	}
	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-2a")
	require.NoError(t, err)
	require.False(t, got.Revoked)

	require.NoError(t, s.RefreshTokens().RevokeAllUserRefreshTokens(ctx, u.ID))
	got, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-2a")
	require.NoError(t, err)
	require.True(t, got.Revoked)
}

func TestRefreshTokenSessionAccounting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newTestUser(t, s, "alice", "alice@example.com")

	older := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: "hash-old",
		SessionID: "sess-old",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, older))
	newTestRefreshToken(t, s, u.ID, "sess-new", "hash-new", now.Add(time.Hour))
	// Expired sessions don't count.
	newTestRefreshToken(t, s, u.ID, "sess-expired", "hash-expired", now.Add(-time.Minute))

	count, err := s.RefreshTokens().CountActiveSessions(ctx, u.ID, now)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	oldest, err := s.RefreshTokens().OldestActiveSessionID(ctx, u.ID, now)
	require.NoError(t, err)
	require.Equal(t, "sess-old", oldest)

	deleted, err := s.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-expired")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSigningKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	key := domain.SigningKey{
		ID:                  idx.New().String(),
		Kid:                 "notevault-1",
		Algorithm:           "RS256",
		PrivateKeyEncrypted: []byte("encrypted-pem"),
		CreatedAt:           now,
		ExpiresAt:           now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, s.SigningKeys().CreateSigningKey(ctx, key))

	active, err := s.SigningKeys().GetActiveSigningKey(ctx)
	require.NoError(t, err)
	require.Equal(t, "notevault-1", active.Kid)
	require.Nil(t, active.RetiredAt)

	// Conditional retire: wins once, then loses.
	ok, err := s.SigningKeys().RetireSigningKeyIfActive(ctx, "notevault-1", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SigningKeys().RetireSigningKeyIfActive(ctx, "notevault-1", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.SigningKeys().GetActiveSigningKey(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Retired key is still verifiable inside its grace window.
	keys, err := s.SigningKeys().ListVerifiableSigningKeys(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NotNil(t, keys[0].RetiredAt)

	// Past the window it disappears and can be purged.
	keys, err = s.SigningKeys().ListVerifiableSigningKeys(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Empty(t, keys)

	deleted, err := s.SigningKeys().DeleteExpiredSigningKeys(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestLoginAttemptsAuditTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newTestUser(t, s, "alice", "alice@example.com")

	attempts := []domain.LoginAttempt{
		{ID: idx.New().String(), UserID: u.ID, Identifier: "alice", IPAddress: "10.0.0.1", Success: false, FailureReason: domain.FailureReasonBadPassword, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: idx.New().String(), UserID: u.ID, Identifier: "alice", IPAddress: "10.0.0.1", Success: true, CreatedAt: now},
		{ID: idx.New().String(), Identifier: "ghost", IPAddress: "10.0.0.2", Success: false, FailureReason: domain.FailureReasonUnknownUser, CreatedAt: now},
	}
	for _, a := range attempts {
		require.NoError(t, s.LoginAttempts().CreateLoginAttempt(ctx, a))
	}

	list, err := s.LoginAttempts().ListUserAttempts(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.True(t, list[0].Success) // newest first

	deleted, err := s.LoginAttempts().DeleteOldLoginAttempts(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s, "alice", "alice@example.com")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    u.ID,
			TokenHash: "tx-hash",
			SessionID: "tx-sess",
			ExpiresAt: time.Now().UTC().Add(time.Hour),
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return context.Canceled // force rollback
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "tx-hash")
	require.ErrorIs(t, err, store.ErrNotFound)
}
