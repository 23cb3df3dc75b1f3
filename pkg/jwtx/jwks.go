package jwtx

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// JWK is the public-key description published at the JWKS endpoint
// (RFC 7517). Only RSA signature keys are issued here, so the struct carries
// exactly the members an RS256 verifier needs.
type JWK struct {
	Kty string `json:"kty"` // key type, always "RSA"
	Use string `json:"use"` // key use, always "sig"
	Alg string `json:"alg"` // algorithm, always "RS256"
	Kid string `json:"kid"` // key identifier

	// RSA public key parameters, base64url without padding.
	N string `json:"n"` // modulus
	E string `json:"e"` // public exponent
}

// JWKS is a set of JWKs, the document shape served at
// /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// NewRSAJWK describes an RSA public key as a JWK.
func NewRSAJWK(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: AlgRS256,
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// PublicKey reconstructs the *rsa.PublicKey from the JWK parameters.
func (k JWK) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("jwtx: unsupported key type %q", k.Kty)
	}

	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwtx: decode modulus: %w", err)
	}

	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwtx: decode exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}
