package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/iotmesh/iotgate/internal/service"
)

// AuthHandler serves the dashboard session endpoints.
type AuthHandler struct {
	svc *service.Service
	log *slog.Logger
}

func NewAuthHandler(svc *service.Service, log *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, log: log}
}

// Login exchanges an email/password pair for a session token.
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.log.Error("login failed", "email", req.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}
