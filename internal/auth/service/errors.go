package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers every credential failure so responses
	// never reveal whether the account exists.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrAccountInactive is returned for correct credentials on a
	// deactivated account.
	ErrAccountInactive = errors.New("account_inactive")

	// ErrUserExists is returned when the username or email is taken.
	ErrUserExists = errors.New("user_already_exists")

	// ErrInvalidRefresh covers every refresh token failure: forged,
	// expired, revoked, or reused.
	ErrInvalidRefresh = errors.New("invalid_refresh_token")
)

// ValidationError carries per-field messages for the caller.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d field(s)", len(e.Fields))
}

// RateLimitError tells the caller when the next attempt may be accepted.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Scope, e.RetryAfter)
}
