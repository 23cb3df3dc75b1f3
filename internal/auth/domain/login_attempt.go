package domain

import "time"

// Failure reasons recorded in the login audit trail.
const (
	FailureReasonBadPassword     = "bad_password"
	FailureReasonUnknownUser     = "unknown_user"
	FailureReasonAccountInactive = "account_inactive"
	FailureReasonRateLimited     = "rate_limited"
)

// LoginAttempt is an audit record of a login, successful or not. UserID is
// empty when the identifier didn't resolve to an account.
type LoginAttempt struct {
	ID            string
	UserID        string
	Identifier    string // username or email as presented
	IPAddress     string
	Success       bool
	FailureReason string // empty on success
	CreatedAt     time.Time
}
