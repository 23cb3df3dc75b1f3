package domain

import "time"

// TokenPair is what the login and refresh endpoints return: a short-lived
// access token and a longer-lived refresh token, both RS256 JWTs.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"` // always "Bearer"
	ExpiresIn    int64  `json:"expires_in"` // seconds until the access token expires
}

// RefreshToken models the stored refresh token record in the DB. The token
// itself is never persisted, only its fingerprint.
type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string // deterministic fingerprint (base64url SHA-256)
	SessionID  string // lineage id that persists across rotations
	DeviceInfo string // client User-Agent captured at login, may be empty
	ExpiresAt  time.Time
	Revoked    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsExpired returns true if the record has passed its expiry.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
