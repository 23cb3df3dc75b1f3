package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/notevault/auth/internal/auth/ratelimit"
	"github.com/notevault/auth/internal/auth/service"
	"github.com/notevault/auth/internal/auth/store"
	"github.com/notevault/auth/internal/auth/store/drivers/sqlite"
	"github.com/notevault/auth/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Router, store.Store) {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	kc, err := jwtx.NewKeyChain(context.Background(), jwtx.KeyChainOptions{
		Store:       store.NewKeyStoreAdapter(st),
		KidPrefix:   "test",
		RSABits:     2048,
		GracePeriod: time.Hour,
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens := service.NewTokenService(kc, "notevault-auth", []string{"notes"}, 15*time.Minute, 30*24*time.Hour)
	sessions := &service.SessionService{Store: st, Tokens: tokens}
	auth := &service.AuthService{
		Store:    st,
		Sessions: sessions,
		Limiter:  ratelimit.New(rdb, nil),
	}

	r := NewRouter(kc, "test", st, nil, slog.Default())
	r.AuthService = auth
	r.TokenService = tokens
	r.ApplyRoutes()
	return r, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func registerBody() map[string]string {
	return map[string]string{
		"email":                 "alice@example.com",
		"username":              "alice",
		"password":              "Str0ng!pass",
		"password_confirmation": "Str0ng!pass",
	}
}

func registerUser(t *testing.T, r *Router) AuthResponse {
	t.Helper()

	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/register", registerBody(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var res AuthResponse
	decodeData(t, rec, &res)
	return res
}

func TestRegisterEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	res := registerUser(t, r)
	require.Equal(t, "alice", res.User.Username)
	require.NotEmpty(t, res.Tokens.AccessToken)
	require.NotEmpty(t, res.Tokens.RefreshToken)
	require.Equal(t, "Bearer", res.Tokens.TokenType)

	t.Run("duplicate", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/register", registerBody(), nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, "USER_ALREADY_EXISTS", decodeError(t, rec).Code)
	})

	t.Run("validation details", func(t *testing.T) {
		body := registerBody()
		body["email"] = "other@example.com"
		body["username"] = "x"
		body["password"] = "weak"
		body["password_confirmation"] = "weak"

		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/register", body, nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		e := decodeError(t, rec)
		require.Equal(t, "VALIDATION_FAILED", e.Code)
		require.Contains(t, e.Details, "username")
		require.Contains(t, e.Details, "password")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Code)
	})
}

func TestLoginEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	registerUser(t, r)

	t.Run("success", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/login",
			map[string]string{"identifier": "alice", "password": "Str0ng!pass"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

		var res AuthResponse
		decodeData(t, rec, &res)
		require.NotEmpty(t, res.Tokens.RefreshToken)
		require.NotNil(t, res.User.LastLoginAt)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/login",
			map[string]string{"identifier": "alice", "password": "Wrong1!pass"}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "INVALID_CREDENTIALS", decodeError(t, rec).Code)
	})

	t.Run("unknown user same error", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/login",
			map[string]string{"identifier": "nobody", "password": "Wrong1!pass"}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "INVALID_CREDENTIALS", decodeError(t, rec).Code)
	})
}

func TestLoginEndpointRateLimited(t *testing.T) {
	r, _ := newTestRouter(t)
	registerUser(t, r)

	r.AuthService.Limiter = r.AuthService.Limiter.WithRule(
		ratelimit.ScopeIdentifier, ratelimit.Rule{Limit: 1, Window: time.Minute})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"identifier": "alice", "password": "Wrong1!pass"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"identifier": "alice", "password": "Str0ng!pass"}, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", decodeError(t, rec).Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRefreshEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	res := registerUser(t, r)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh",
		map[string]string{"refresh_token": res.Tokens.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decodeData(t, rec, &pair)
	require.NotEqual(t, res.Tokens.RefreshToken, pair.RefreshToken)

	t.Run("reuse rejected", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh",
			map[string]string{"refresh_token": res.Tokens.RefreshToken}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "INVALID_REFRESH_TOKEN", decodeError(t, rec).Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh", map[string]string{}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogoutEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	res := registerUser(t, r)
	bearer := map[string]string{"Authorization": "Bearer " + res.Tokens.AccessToken}

	t.Run("requires bearer", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/logout",
			map[string]string{"refresh_token": res.Tokens.RefreshToken}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("single session", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/logout",
			map[string]string{"refresh_token": res.Tokens.RefreshToken}, bearer)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh",
			map[string]string{"refresh_token": res.Tokens.RefreshToken}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("logout all without body", func(t *testing.T) {
		login := doJSON(t, r, http.MethodPost, "/api/v1/auth/login",
			map[string]string{"identifier": "alice", "password": "Str0ng!pass"}, nil)
		require.Equal(t, http.StatusOK, login.Code)

		var lres AuthResponse
		decodeData(t, login, &lres)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+lres.Tokens.AccessToken)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		refresh := doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh",
			map[string]string{"refresh_token": lres.Tokens.RefreshToken}, nil)
		require.Equal(t, http.StatusUnauthorized, refresh.Code)
	})
}

func TestJWKSEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var jwks jwtx.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "RSA", jwks.Keys[0].Kty)
	require.Equal(t, "RS256", jwks.Keys[0].Alg)
	require.Equal(t, "AQAB", jwks.Keys[0].E)
}

func TestHealthEndpoints(t *testing.T) {
	r, st := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/livez", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "ok", health.Status)

	rec = doJSON(t, r, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, st.Close())
	rec = doJSON(t, r, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFullScenario(t *testing.T) {
	r, _ := newTestRouter(t)

	// register -> login -> refresh -> reuse rejected -> logout all
	reg := registerUser(t, r)

	login := doJSON(t, r, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"identifier": "alice", "password": "Str0ng!pass"}, nil)
	require.Equal(t, http.StatusOK, login.Code)

	var lres AuthResponse
	decodeData(t, login, &lres)
	require.NotEqual(t, reg.Tokens.RefreshToken, lres.Tokens.RefreshToken)

	refresh := doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh",
		map[string]string{"refresh_token": lres.Tokens.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, refresh.Code)

	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decodeData(t, refresh, &pair)

	reuse := doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh",
		map[string]string{"refresh_token": lres.Tokens.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, reuse.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	for i, token := range []string{reg.Tokens.RefreshToken, pair.RefreshToken} {
		rec := doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh",
			map[string]string{"refresh_token": token}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, fmt.Sprintf("token %d", i))
	}
}
