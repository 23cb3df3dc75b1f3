package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/notevault/auth/internal/auth/service"
	"github.com/notevault/auth/pkg/httpx"
)

// LogoutHandler serves POST /api/v1/auth/logout. Requires a bearer access
// token. With a refresh_token in the body only that session ends; without
// one, every session for the user is revoked.
type LogoutHandler struct {
	AuthService *service.AuthService
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type logoutResponse struct {
	Message string `json:"message"`
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpx.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS",
			"Authentication required", nil)
		return
	}

	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeInvalidBody(w)
		return
	}

	if req.RefreshToken == "" {
		if err := h.AuthService.LogoutAll(r.Context(), userID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, logoutResponse{Message: "All sessions ended"})
		return
	}

	if err := h.AuthService.Logout(r.Context(), userID, req.RefreshToken); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, logoutResponse{Message: "Session ended"})
}
