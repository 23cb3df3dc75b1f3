package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	httpapi "github.com/notevault/auth/internal/auth/http"
	"github.com/notevault/auth/internal/auth/ratelimit"
	"github.com/notevault/auth/internal/auth/service"
	"github.com/notevault/auth/internal/auth/store"
	"github.com/notevault/auth/internal/auth/store/drivers/sqlite"
	"github.com/notevault/auth/pkg/jwtx"
)

type env struct {
	baseURL  string
	keychain *jwtx.KeyChain
	client   *http.Client
}

// setupAuthServer wires the full service against a temp sqlite file and an
// in-process redis, then serves it over a real listener.
func setupAuthServer(t *testing.T) *env {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	kc, err := jwtx.NewKeyChain(context.Background(), jwtx.KeyChainOptions{
		Store:       store.NewKeyStoreAdapter(st),
		KidPrefix:   "e2e",
		RSABits:     2048,
		GracePeriod: time.Hour,
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens := service.NewTokenService(kc, "notevault-auth", []string{"notes"}, 15*time.Minute, 30*24*time.Hour)
	sessions := &service.SessionService{Store: st, Tokens: tokens}

	router := httpapi.NewRouter(kc, "e2e", st, nil, slog.Default())
	router.AuthService = &service.AuthService{
		Store:    st,
		Sessions: sessions,
		Limiter:  ratelimit.New(rdb, nil),
	}
	router.TokenService = tokens
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &env{baseURL: srv.URL, keychain: kc, client: srv.Client()}
}

func (e *env) post(t *testing.T, path string, body any, bearer string) (int, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, e.baseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type authPayload struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Tokens tokenPair `json:"tokens"`
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()

	var wrapper struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &wrapper))
	return wrapper.Data
}

func TestFullAuthLifecycle(t *testing.T) {
	e := setupAuthServer(t)

	code, raw := e.post(t, "/api/v1/auth/register", map[string]string{
		"email":                 "a@x.com",
		"username":              "alice",
		"password":              "Abc12345!",
		"password_confirmation": "Abc12345!",
	}, "")
	require.Equal(t, http.StatusCreated, code, string(raw))
	reg := decode[authPayload](t, raw)
	require.NotEmpty(t, reg.Tokens.AccessToken)

	code, raw = e.post(t, "/api/v1/auth/login", map[string]string{
		"identifier": "alice",
		"password":   "Abc12345!",
	}, "")
	require.Equal(t, http.StatusOK, code, string(raw))
	login := decode[authPayload](t, raw)
	require.NotEqual(t, reg.Tokens.RefreshToken, login.Tokens.RefreshToken)

	code, raw = e.post(t, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": login.Tokens.RefreshToken,
	}, "")
	require.Equal(t, http.StatusOK, code, string(raw))
	rotated := decode[tokenPair](t, raw)

	// The spent token is dead.
	code, _ = e.post(t, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": login.Tokens.RefreshToken,
	}, "")
	require.Equal(t, http.StatusUnauthorized, code)

	// Logout everywhere, then nothing previously issued refreshes.
	code, _ = e.post(t, "/api/v1/auth/logout", nil, rotated.AccessToken)
	require.Equal(t, http.StatusOK, code)

	for _, token := range []string{reg.Tokens.RefreshToken, rotated.RefreshToken} {
		code, _ = e.post(t, "/api/v1/auth/refresh", map[string]string{"refresh_token": token}, "")
		require.Equal(t, http.StatusUnauthorized, code)
	}
}

func TestKeyRotationOverlapOverHTTP(t *testing.T) {
	e := setupAuthServer(t)

	code, raw := e.post(t, "/api/v1/auth/register", map[string]string{
		"email":                 "a@x.com",
		"username":              "alice",
		"password":              "Abc12345!",
		"password_confirmation": "Abc12345!",
	}, "")
	require.Equal(t, http.StatusCreated, code, string(raw))
	reg := decode[authPayload](t, raw)

	oldKid := e.keychain.ActiveSigner().KID()
	_, err := e.keychain.Rotate(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, oldKid, e.keychain.ActiveSigner().KID())

	// JWKS now advertises both the new and the retired key.
	resp, err := e.client.Get(e.baseURL + "/.well-known/jwks.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	var jwks jwtx.JWKS
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jwks))
	require.Len(t, jwks.Keys, 2)

	kids := map[string]bool{}
	for _, k := range jwks.Keys {
		kids[k.Kid] = true
	}
	require.True(t, kids[oldKid], fmt.Sprintf("retired key %s missing from JWKS", oldKid))

	// A token signed before the rotation still authenticates requests.
	code, _ = e.post(t, "/api/v1/auth/logout", map[string]string{
		"refresh_token": reg.Tokens.RefreshToken,
	}, reg.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, code)
}
