package http

import (
	"encoding/json"
	"net/http"

	"github.com/notevault/auth/internal/auth/service"
	"github.com/notevault/auth/pkg/httpx"
)

// LoginHandler serves POST /api/v1/auth/login.
type LoginHandler struct {
	AuthService *service.AuthService
}

type loginRequest struct {
	Identifier string `json:"identifier"` // username or email
	Password   string `json:"password"`
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	res, err := h.AuthService.Login(r.Context(), service.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		IPAddress:  httpx.ClientIP(r),
		DeviceInfo: r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, AuthResponse{
		User:   newUserSummary(res.User),
		Tokens: res.Tokens,
	})
}
