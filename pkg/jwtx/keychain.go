package jwtx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notevault/auth/pkg/cryptox"
	"github.com/notevault/auth/pkg/idx"
)

// SigningKeyRecord represents a signing key as stored in the database. The
// jwtx package defines the record itself to avoid a circular dependency on
// the store package.
type SigningKeyRecord struct {
	ID                  string
	Kid                 string
	Algorithm           string
	PrivateKeyEncrypted []byte
	CreatedAt           time.Time
	RetiredAt           *time.Time
	ExpiresAt           time.Time
}

// ErrRotationConflict is returned by KeyStore.RotateSigningKey when another
// rotation won the same epoch: the active key observed by the caller is no
// longer the active key.
var ErrRotationConflict = errors.New("jwtx: concurrent rotation detected")

// KeyStore is the persistence interface the KeyChain drives. Implementations
// must make RotateSigningKey atomic: insert the new key and retire the
// previous one in a single transaction, conditional on prevKid still being
// the active key.
type KeyStore interface {
	// ListSigningKeys returns all keys still usable for verification,
	// including retired keys inside their grace window. Keys past their
	// expiry must not be returned.
	ListSigningKeys(ctx context.Context) ([]SigningKeyRecord, error)

	// GetActiveSigningKey returns the single non-retired key.
	GetActiveSigningKey(ctx context.Context) (SigningKeyRecord, error)

	// CreateSigningKey stores a new active key. Used only for initial
	// provisioning when no key exists at all.
	CreateSigningKey(ctx context.Context, key SigningKeyRecord) error

	// RotateSigningKey atomically inserts newKey as the active key and
	// retires the key identified by prevKid, stamping it with retiredAt
	// and expiresAt. Returns ErrRotationConflict if prevKid is no longer
	// the active key.
	RotateSigningKey(ctx context.Context, newKey SigningKeyRecord, prevKid string, retiredAt, expiresAt time.Time) error
}

// ErrNoActiveKey signals that the store holds no usable signing key.
var ErrNoActiveKey = errors.New("jwtx: no active signing key")

// KeyChainOptions configures a KeyChain.
type KeyChainOptions struct {
	// Store provides access to the signing keys database. Required.
	Store KeyStore

	// KidPrefix namespaces generated key ids. Required.
	KidPrefix string

	// RSABits is the modulus size for newly generated keys.
	// Defaults to DefaultRSABits.
	RSABits int

	// GracePeriod is how long a retired key remains valid for
	// verification after rotation. Defaults to 7 days.
	GracePeriod time.Duration

	// Logger for provisioning and rotation events. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// KeyChain manages the signing key lifecycle: exactly one active signing
// key at a time, plus retired keys kept verifiable through a grace window.
//
// The active signer sits behind an atomic pointer so issuance never blocks
// on rotation; rotations themselves are serialized by a mutex, and the
// store's conditional swap guarantees at most one winner per epoch even
// across processes.
type KeyChain struct {
	store  KeyStore
	keyset *KeySet
	log    *slog.Logger

	kidPrefix string
	rsaBits   int
	grace     time.Duration

	active   atomic.Pointer[Signer]
	rotateMu sync.Mutex
}

// NewKeyChain loads all verifiable keys from the store and selects the
// active signer. If the store is empty it provisions a first key and logs a
// warning, so a fresh deployment can start without manual key ceremony.
func NewKeyChain(ctx context.Context, opts KeyChainOptions) (*KeyChain, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("jwtx: Store is required")
	}
	if opts.KidPrefix == "" {
		return nil, fmt.Errorf("jwtx: KidPrefix is required")
	}
	if opts.RSABits <= 0 {
		opts.RSABits = DefaultRSABits
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 7 * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	kc := &KeyChain{
		store:     opts.Store,
		keyset:    NewKeySet(),
		log:       opts.Logger,
		kidPrefix: opts.KidPrefix,
		rsaBits:   opts.RSABits,
		grace:     opts.GracePeriod,
	}

	if err := kc.Reload(ctx); err != nil {
		if !errors.Is(err, ErrNoActiveKey) {
			return nil, err
		}

		// Empty store: provision the first key.
		kc.log.Warn("no active signing key found, provisioning a new one")
		if err := kc.provision(ctx); err != nil {
			return nil, err
		}
	}

	return kc, nil
}

// ActiveSigner returns the signer currently used for token issuance.
func (kc *KeyChain) ActiveSigner() *Signer {
	return kc.active.Load()
}

// KeySet returns the verification key set, including retired keys still in
// their grace window. The same instance backs the JWKS endpoint.
func (kc *KeyChain) KeySet() *KeySet {
	return kc.keyset
}

// Reload rebuilds the keyset and active signer from the store. Called on
// startup, after a lost rotation race, and after retired-key purges.
func (kc *KeyChain) Reload(ctx context.Context) error {
	records, err := kc.store.ListSigningKeys(ctx)
	if err != nil {
		return fmt.Errorf("jwtx: load signing keys: %w", err)
	}

	jwks := JWKS{}
	signers := make(map[string]*Signer, len(records))
	for _, rec := range records {
		s, err := signerFromRecord(rec)
		if err != nil {
			return err
		}
		signers[rec.Kid] = s
		jwks.Keys = append(jwks.Keys, s.PublicJWK())
	}

	activeRec, err := kc.store.GetActiveSigningKey(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoActiveKey, err)
	}

	activeSigner, ok := signers[activeRec.Kid]
	if !ok {
		return fmt.Errorf("jwtx: active key %q missing from verification set", activeRec.Kid)
	}

	if err := kc.keyset.ResetFromJWKS(jwks); err != nil {
		return fmt.Errorf("jwtx: rebuild keyset: %w", err)
	}
	kc.active.Store(activeSigner)

	return nil
}

// Rotate generates a fresh key, atomically swaps it in as the active key
// and retires the previous one. Tokens signed by the retired key stay
// verifiable until its grace window ends.
//
// Concurrent rotations within one process serialize on a mutex; across
// processes the store's conditional swap decides the winner, and losers
// simply adopt the winner's key.
func (kc *KeyChain) Rotate(ctx context.Context) (*Signer, error) {
	kc.rotateMu.Lock()
	defer kc.rotateMu.Unlock()

	prev := kc.active.Load()
	if prev == nil {
		return nil, ErrNoActiveKey
	}

	newSigner, rec, err := kc.generateRecord()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = kc.store.RotateSigningKey(ctx, rec, prev.KID(), now, now.Add(kc.grace))
	if errors.Is(err, ErrRotationConflict) {
		// Someone else rotated this epoch. Adopt their result.
		kc.log.Info("lost rotation race, reloading keys from store")
		if rerr := kc.Reload(ctx); rerr != nil {
			return nil, rerr
		}
		return kc.active.Load(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("jwtx: persist rotated key: %w", err)
	}

	if err := kc.keyset.AddSigner(newSigner); err != nil {
		return nil, err
	}
	kc.active.Store(newSigner)

	kc.log.Info("rotated signing key",
		slog.String("kid", newSigner.KID()),
		slog.String("retired_kid", prev.KID()),
		slog.Time("retired_key_expires_at", now.Add(kc.grace)),
	)

	return newSigner, nil
}

// provision creates and persists the very first signing key.
func (kc *KeyChain) provision(ctx context.Context) error {
	signer, rec, err := kc.generateRecord()
	if err != nil {
		return err
	}

	if err := kc.store.CreateSigningKey(ctx, rec); err != nil {
		return fmt.Errorf("jwtx: store initial key: %w", err)
	}

	if err := kc.keyset.AddSigner(signer); err != nil {
		return err
	}
	kc.active.Store(signer)

	kc.log.Info("provisioned initial signing key", slog.String("kid", signer.KID()))
	return nil
}

// generateRecord creates a new signer and its encrypted storage record.
func (kc *KeyChain) generateRecord() (*Signer, SigningKeyRecord, error) {
	signer, err := GenerateSigner(kc.kidPrefix, kc.rsaBits)
	if err != nil {
		return nil, SigningKeyRecord{}, err
	}

	encrypted, err := cryptox.EncryptPrivateKey(signer.MarshalPEM())
	if err != nil {
		return nil, SigningKeyRecord{}, fmt.Errorf("jwtx: encrypt private key: %w", err)
	}

	now := time.Now().UTC()
	rec := SigningKeyRecord{
		ID:                  idx.New().String(),
		Kid:                 signer.KID(),
		Algorithm:           AlgRS256,
		PrivateKeyEncrypted: encrypted,
		CreatedAt:           now,
		RetiredAt:           nil,
		// Extended to retired_at + grace when the key is retired.
		ExpiresAt: now.Add(kc.grace),
	}

	return signer, rec, nil
}

// signerFromRecord decrypts a stored key record into a usable Signer.
func signerFromRecord(rec SigningKeyRecord) (*Signer, error) {
	if rec.Algorithm != AlgRS256 {
		return nil, fmt.Errorf("jwtx: unsupported stored algorithm %q for key %s", rec.Algorithm, rec.Kid)
	}

	pemData, err := cryptox.DecryptPrivateKey(rec.PrivateKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("jwtx: decrypt key %s: %w", rec.Kid, err)
	}

	return ParseSignerPEM(rec.Kid, pemData)
}
