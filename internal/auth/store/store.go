package store

import (
	"context"
	"errors"
	"time"

	"github.com/notevault/auth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence boundary for the auth service. Drivers implement
// it; services depend on it.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	SigningKeys() SigningKeys
	LoginAttempts() LoginAttempts

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
	Close() error

	// ApplyMigrations brings the schema up to date. Called once at startup.
	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing on nil error and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a Store scoped to a single transaction.
type Tx interface {
	Store

	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a new user. Returns ErrAlreadyExists when the
	// username or email is already taken.
	CreateUser(ctx context.Context, u domain.User) error

	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByIdentifier resolves a username or email (case-insensitive)
	// to a user.
	GetUserByIdentifier(ctx context.Context, identifier string) (domain.User, error)

	// UpdateLastLogin stamps the user's last successful login time.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	SetUserActive(ctx context.Context, id string, active bool) error
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RedeemRefreshToken atomically revokes the token identified by hash,
	// but only if it is not already revoked. Returns true when this call
	// won the redemption; false means the token was already spent.
	RedeemRefreshToken(ctx context.Context, hash string) (bool, error)

	// RevokeSessionRefreshTokens revokes every token in a session lineage.
	RevokeSessionRefreshTokens(ctx context.Context, sessionID string) error

	// RevokeAllUserRefreshTokens revokes every token the user holds,
	// across all sessions.
	RevokeAllUserRefreshTokens(ctx context.Context, userID string) error

	// CountActiveSessions returns the number of distinct live session
	// lineages the user holds.
	CountActiveSessions(ctx context.Context, userID string, now time.Time) (int, error)

	// OldestActiveSessionID returns the session lineage with the earliest
	// creation time, used to evict when the per-user session cap is hit.
	OldestActiveSessionID(ctx context.Context, userID string, now time.Time) (string, error)

	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

type SigningKeys interface {
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// GetActiveSigningKey returns the single non-retired key.
	GetActiveSigningKey(ctx context.Context) (domain.SigningKey, error)

	// ListVerifiableSigningKeys returns the active key plus retired keys
	// still inside their grace window.
	ListVerifiableSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error)

	// RetireSigningKeyIfActive retires the key identified by kid only if
	// it is currently active. Returns false when some other rotation got
	// there first.
	RetireSigningKeyIfActive(ctx context.Context, kid string, retiredAt, expiresAt time.Time) (bool, error)

	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error)
}

type LoginAttempts interface {
	CreateLoginAttempt(ctx context.Context, a domain.LoginAttempt) error

	// ListUserAttempts returns the most recent attempts for a user, newest
	// first.
	ListUserAttempts(ctx context.Context, userID string, limit int) ([]domain.LoginAttempt, error)

	DeleteOldLoginAttempts(ctx context.Context, before time.Time) (int64, error)
}
