package jwtx

import "errors"

// Typed verification errors. Callers switch on these with errors.Is to map
// failures onto their own error taxonomy without parsing error strings.
var (
	ErrMalformed     = errors.New("jwtx: malformed token")
	ErrAlgNotAllowed = errors.New("jwtx: signing algorithm not allowed")
	ErrMissingKID    = errors.New("jwtx: token header missing kid")
	ErrUnknownKID    = errors.New("jwtx: unknown key id")
	ErrInvalidSig    = errors.New("jwtx: invalid signature")
	ErrExpired       = errors.New("jwtx: token expired")
	ErrNotYetValid   = errors.New("jwtx: token not yet valid")
	ErrIssuer        = errors.New("jwtx: unexpected issuer")
	ErrAudience      = errors.New("jwtx: unexpected audience")
	ErrTypeMismatch  = errors.New("jwtx: unexpected token type")
	ErrInvalidClaim  = errors.New("jwtx: invalid claims")
)
