package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/notevault/auth/internal/auth/domain"
	"github.com/notevault/auth/internal/auth/service"
	"github.com/notevault/auth/pkg/httpx"
	"github.com/notevault/auth/pkg/slogx"
)

// Every response carries either data or error, never both.
type dataEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// UserSummary is the public shape of a user; the password hash never leaves
// the service.
type UserSummary struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

func newUserSummary(u domain.User) UserSummary {
	return UserSummary{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}

// AuthResponse is the register/login success body.
type AuthResponse struct {
	User   UserSummary       `json:"user"`
	Tokens *domain.TokenPair `json:"tokens"`
}

func writeData(w http.ResponseWriter, status int, v any) {
	httpx.WriteJSON(w, status, dataEnvelope{Data: v})
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	httpx.WriteJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// writeServiceError maps service-layer failures to wire errors. Credential
// and token failures stay generic so callers can't probe for accounts.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	var rle *service.RateLimitError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED",
			"One or more fields are invalid", verr.Fields)
	case errors.Is(err, service.ErrUserExists):
		writeError(w, http.StatusConflict, "USER_ALREADY_EXISTS",
			"A user with this email or username already exists", nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS",
			"Invalid credentials", nil)
	case errors.Is(err, service.ErrAccountInactive):
		writeError(w, http.StatusForbidden, "ACCOUNT_INACTIVE",
			"This account is deactivated", nil)
	case errors.Is(err, service.ErrInvalidRefresh):
		writeError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN",
			"Invalid or expired refresh token", nil)
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
			"Too many attempts, please try again later", nil)
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err,
			"path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Something went wrong", nil)
	}
}

func writeInvalidBody(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, "INVALID_REQUEST",
		"Request body must be valid JSON", nil)
}
