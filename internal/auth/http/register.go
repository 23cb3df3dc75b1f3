package http

import (
	"encoding/json"
	"net/http"

	"github.com/notevault/auth/internal/auth/service"
)

// RegisterHandler serves POST /api/v1/auth/register.
type RegisterHandler struct {
	AuthService *service.AuthService
}

type registerRequest struct {
	Email                string `json:"email"`
	Username             string `json:"username,omitempty"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// ServeHTTP creates an account and immediately opens a session; registration
// implies login, so the response carries a full token pair.
func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	res, err := h.AuthService.Register(r.Context(), service.RegisterInput{
		Email:           req.Email,
		Username:        req.Username,
		Password:        req.Password,
		ConfirmPassword: req.PasswordConfirmation,
		DeviceInfo:      r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, AuthResponse{
		User:   newUserSummary(res.User),
		Tokens: res.Tokens,
	})
}
