package http

import (
	"net/http"

	"github.com/notevault/auth/pkg/httpx"
	"github.com/notevault/auth/pkg/jwtx"
)

// JWKSHandler exposes the JSON Web Key Set for public key discovery. During
// a rotation overlap it carries both the new active key and the retired keys
// still inside their grace window.
func JWKSHandler(kc *jwtx.KeyChain) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, kc.KeySet().PublicJWKS())
	}
}
