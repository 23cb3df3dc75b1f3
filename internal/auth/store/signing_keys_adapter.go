package store

import (
	"context"
	"time"

	"github.com/notevault/auth/internal/auth/domain"
	"github.com/notevault/auth/pkg/jwtx"
)

// KeyStoreAdapter adapts a Store to the jwtx.KeyStore interface so the jwtx
// package can manage signing keys without depending on the domain package.
type KeyStoreAdapter struct {
	store Store
}

// NewKeyStoreAdapter creates a new adapter that implements jwtx.KeyStore.
func NewKeyStoreAdapter(store Store) *KeyStoreAdapter {
	return &KeyStoreAdapter{store: store}
}

// ListSigningKeys returns all keys still usable for verification, including
// retired keys inside their grace window.
func (a *KeyStoreAdapter) ListSigningKeys(ctx context.Context) ([]jwtx.SigningKeyRecord, error) {
	keys, err := a.store.SigningKeys().ListVerifiableSigningKeys(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	records := make([]jwtx.SigningKeyRecord, len(keys))
	for i, key := range keys {
		records[i] = domainKeyToRecord(key)
	}
	return records, nil
}

// GetActiveSigningKey returns the single non-retired key.
func (a *KeyStoreAdapter) GetActiveSigningKey(ctx context.Context) (jwtx.SigningKeyRecord, error) {
	key, err := a.store.SigningKeys().GetActiveSigningKey(ctx)
	if err != nil {
		return jwtx.SigningKeyRecord{}, err
	}
	return domainKeyToRecord(key), nil
}

// CreateSigningKey stores a new signing key with encrypted private key material.
func (a *KeyStoreAdapter) CreateSigningKey(ctx context.Context, key jwtx.SigningKeyRecord) error {
	return a.store.SigningKeys().CreateSigningKey(ctx, recordToDomainKey(key))
}

// RotateSigningKey retires the previous key and inserts the new one in a
// single transaction. The conditional retire decides rotation races: if
// prevKid is no longer active, another rotation won and the whole
// transaction rolls back with jwtx.ErrRotationConflict.
func (a *KeyStoreAdapter) RotateSigningKey(
	ctx context.Context,
	newKey jwtx.SigningKeyRecord,
	prevKid string,
	retiredAt, expiresAt time.Time,
) error {
	return a.store.WithTx(ctx, func(tx Tx) error {
		retired, err := tx.SigningKeys().RetireSigningKeyIfActive(ctx, prevKid, retiredAt, expiresAt)
		if err != nil {
			return err
		}
		if !retired {
			return jwtx.ErrRotationConflict
		}

		return tx.SigningKeys().CreateSigningKey(ctx, recordToDomainKey(newKey))
	})
}

func domainKeyToRecord(key domain.SigningKey) jwtx.SigningKeyRecord {
	return jwtx.SigningKeyRecord{
		ID:                  key.ID,
		Kid:                 key.Kid,
		Algorithm:           key.Algorithm,
		PrivateKeyEncrypted: key.PrivateKeyEncrypted,
		CreatedAt:           key.CreatedAt,
		RetiredAt:           key.RetiredAt,
		ExpiresAt:           key.ExpiresAt,
	}
}

func recordToDomainKey(record jwtx.SigningKeyRecord) domain.SigningKey {
	return domain.SigningKey{
		ID:                  record.ID,
		Kid:                 record.Kid,
		Algorithm:           record.Algorithm,
		PrivateKeyEncrypted: record.PrivateKeyEncrypted,
		CreatedAt:           record.CreatedAt,
		RetiredAt:           record.RetiredAt,
		ExpiresAt:           record.ExpiresAt,
	}
}
