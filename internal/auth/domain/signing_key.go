package domain

import "time"

// SigningKey represents a JWT signing key stored in the database with support
// for rotation. Keys are encrypted at rest; a retired key remains valid for
// verification until its grace window expires.
type SigningKey struct {
	ID                  string     // ULID
	Kid                 string     // Key identifier in JWKS (e.g., "notevault-...")
	Algorithm           string     // always RS256
	PrivateKeyEncrypted []byte     // AES-256-GCM encrypted private key PEM
	CreatedAt           time.Time  // When the key was created
	RetiredAt           *time.Time // When key was retired from active signing (nil = active)
	ExpiresAt           time.Time  // Unusable for verification and purgeable after this
}

// IsActive returns true if the key is the current signing key.
func (k *SigningKey) IsActive() bool {
	return k.RetiredAt == nil
}

// IsExpired returns true if the key has passed its grace window.
func (k *SigningKey) IsExpired(now time.Time) bool {
	return k.RetiredAt != nil && now.After(k.ExpiresAt)
}
