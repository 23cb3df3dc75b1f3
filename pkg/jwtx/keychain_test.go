package jwtx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/notevault/auth/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

// memKeyStore is an in-memory KeyStore with the same conditional-swap
// rotation semantics the sqlite driver implements.
type memKeyStore struct {
	mu   sync.Mutex
	keys map[string]jwtx.SigningKeyRecord
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[string]jwtx.SigningKeyRecord)}
}

func (s *memKeyStore) ListSigningKeys(ctx context.Context) ([]jwtx.SigningKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	out := make([]jwtx.SigningKeyRecord, 0, len(s.keys))
	for _, rec := range s.keys {
		if rec.RetiredAt != nil && now.After(rec.ExpiresAt) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *memKeyStore) GetActiveSigningKey(ctx context.Context) (jwtx.SigningKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *memKeyStore) activeLocked() (jwtx.SigningKeyRecord, error) {
	for _, rec := range s.keys {
		if rec.RetiredAt == nil {
			return rec, nil
		}
	}
	return jwtx.SigningKeyRecord{}, jwtx.ErrNoActiveKey
}

func (s *memKeyStore) CreateSigningKey(ctx context.Context, key jwtx.SigningKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.Kid] = key
	return nil
}

func (s *memKeyStore) RotateSigningKey(ctx context.Context, newKey jwtx.SigningKeyRecord, prevKid string, retiredAt, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.activeLocked()
	if err != nil || active.Kid != prevKid {
		return jwtx.ErrRotationConflict
	}

	active.RetiredAt = &retiredAt
	active.ExpiresAt = expiresAt
	s.keys[active.Kid] = active
	s.keys[newKey.Kid] = newKey
	return nil
}

func newTestKeyChain(t *testing.T, store jwtx.KeyStore) *jwtx.KeyChain {
	t.Helper()
	kc, err := jwtx.NewKeyChain(context.Background(), jwtx.KeyChainOptions{
		Store:       store,
		KidPrefix:   "test",
		RSABits:     2048,
		GracePeriod: time.Hour,
	})
	require.NoError(t, err)
	return kc
}

func TestKeyChainProvisionsFirstKey(t *testing.T) {
	store := newMemKeyStore()
	kc := newTestKeyChain(t, store)

	signer := kc.ActiveSigner()
	require.NotNil(t, signer)
	require.True(t, kc.KeySet().IsReady())

	// The key landed in the store as active.
	rec, err := store.GetActiveSigningKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, signer.KID(), rec.Kid)
	require.Equal(t, jwtx.AlgRS256, rec.Algorithm)
	require.NotEmpty(t, rec.PrivateKeyEncrypted)
}

func TestKeyChainLoadsExistingKeys(t *testing.T) {
	store := newMemKeyStore()
	first := newTestKeyChain(t, store)

	// A second chain over the same store adopts the same key.
	second := newTestKeyChain(t, store)
	require.Equal(t, first.ActiveSigner().KID(), second.ActiveSigner().KID())
}

func TestKeyChainRotateKeepsOldKeyVerifiable(t *testing.T) {
	store := newMemKeyStore()
	kc := newTestKeyChain(t, store)

	oldSigner := kc.ActiveSigner()
	claims := jwtx.NewRefreshClaims("user-1", exampleIssuer, time.Minute, time.Now().UTC())
	oldToken, err := oldSigner.Sign(claims)
	require.NoError(t, err)

	newSigner, err := kc.Rotate(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, oldSigner.KID(), newSigner.KID())
	require.Same(t, newSigner, kc.ActiveSigner())

	// Tokens from the retired key still verify during the grace window.
	verifier := jwtx.NewVerifier(kc.KeySet(), exampleIssuer, nil)
	_, err = verifier.Verify(oldToken, jwtx.TokenTypeRefresh)
	require.NoError(t, err)

	// And the new key signs verifiable tokens too.
	newToken, err := kc.ActiveSigner().Sign(jwtx.NewRefreshClaims("user-1", exampleIssuer, time.Minute, time.Now().UTC()))
	require.NoError(t, err)
	_, err = verifier.Verify(newToken, jwtx.TokenTypeRefresh)
	require.NoError(t, err)

	// JWKS advertises both keys.
	require.Len(t, kc.KeySet().PublicJWKS().Keys, 2)
}

func TestKeyChainRotationLoserAdoptsWinner(t *testing.T) {
	store := newMemKeyStore()

	// Two chains over one store simulate two processes.
	a := newTestKeyChain(t, store)
	b := newTestKeyChain(t, store)
	require.Equal(t, a.ActiveSigner().KID(), b.ActiveSigner().KID())

	winner, err := a.Rotate(context.Background())
	require.NoError(t, err)

	// B still holds the stale active kid, so its rotation loses the race
	// and adopts A's key instead of minting another one.
	adopted, err := b.Rotate(context.Background())
	require.NoError(t, err)
	require.Equal(t, winner.KID(), adopted.KID())

	rec, err := store.GetActiveSigningKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, winner.KID(), rec.Kid)
}

func TestKeyChainReloadDropsExpiredRetiredKeys(t *testing.T) {
	store := newMemKeyStore()
	kc := newTestKeyChain(t, store)
	oldKid := kc.ActiveSigner().KID()

	_, err := kc.Rotate(context.Background())
	require.NoError(t, err)

	// Force the retired key past its expiry, then reload.
	store.mu.Lock()
	rec := store.keys[oldKid]
	expired := time.Now().UTC().Add(-time.Minute)
	rec.ExpiresAt = expired
	store.keys[oldKid] = rec
	store.mu.Unlock()

	require.NoError(t, kc.Reload(context.Background()))

	_, err = kc.KeySet().Get(oldKid)
	require.ErrorIs(t, err, jwtx.ErrNoKey)
	require.Len(t, kc.KeySet().PublicJWKS().Keys, 1)
}
