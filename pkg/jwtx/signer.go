package jwtx

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AlgRS256 is the only signing algorithm tokens are issued or accepted with.
const AlgRS256 = "RS256"

// DefaultRSABits is the RSA modulus size used when generating signing keys.
const DefaultRSABits = 2048

// Signer signs claims with an RSA private key under a stable key id. A
// Signer is immutable after construction and safe for concurrent use.
type Signer struct {
	kid  string
	priv *rsa.PrivateKey
}

// NewSigner wraps an existing private key under the given kid.
func NewSigner(kid string, priv *rsa.PrivateKey) (*Signer, error) {
	if kid == "" {
		return nil, fmt.Errorf("jwtx: signer requires a kid")
	}
	if priv == nil {
		return nil, fmt.Errorf("jwtx: signer requires a private key")
	}
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("jwtx: invalid private key: %w", err)
	}
	return &Signer{kid: kid, priv: priv}, nil
}

// GenerateSigner creates a fresh RSA key pair under a new random kid.
func GenerateSigner(kidPrefix string, bits int) (*Signer, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("jwtx: rsa key size %d below minimum 2048", bits)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate rsa key: %w", err)
	}

	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return nil, fmt.Errorf("jwtx: generate kid: %w", err)
	}

	kid := fmt.Sprintf("%s-%d-%s",
		kidPrefix,
		time.Now().UTC().Unix(),
		base64.RawURLEncoding.EncodeToString(suffix),
	)

	return &Signer{kid: kid, priv: priv}, nil
}

// ParseSignerPEM rebuilds a Signer from a PKCS#1 PEM-encoded private key,
// the inverse of MarshalPEM.
func ParseSignerPEM(kid string, pemBytes []byte) (*Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("jwtx: no RSA private key PEM block found")
	}

	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse private key: %w", err)
	}

	return NewSigner(kid, priv)
}

// KID returns the key identifier stamped into token headers.
func (s *Signer) KID() string { return s.kid }

// Alg returns the JOSE algorithm name.
func (s *Signer) Alg() string { return AlgRS256 }

// Public returns the RSA public key for this signer.
func (s *Signer) Public() *rsa.PublicKey { return &s.priv.PublicKey }

// PublicJWK describes the public half of the key pair as a JWK.
func (s *Signer) PublicJWK() JWK {
	return NewRSAJWK(s.kid, &s.priv.PublicKey)
}

// MarshalPEM serializes the private key as PKCS#1 PEM for storage. Callers
// are expected to encrypt the result before persisting it.
func (s *Signer) MarshalPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(s.priv),
	})
}

// Sign produces a compact serialized RS256 JWT with the signer's kid in the
// header.
func (s *Signer) Sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid

	signed, err := tok.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign token: %w", err)
	}

	return signed, nil
}
