package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/server/middleware"
	"github.com/iotmesh/iotgate/internal/service"
	"github.com/iotmesh/iotgate/internal/store"
)

// KeyHandler manages API credentials for the caller's organization.
// All endpoints require admin or owner role.
type KeyHandler struct {
	svc *service.Service
	log *slog.Logger
}

func NewKeyHandler(svc *service.Service, log *slog.Logger) *KeyHandler {
	return &KeyHandler{svc: svc, log: log}
}

// requireAdmin resolves the session and checks the admin threshold. Returns
// nil after writing the error response when the caller is not allowed.
func (h *KeyHandler) requireAdmin(w http.ResponseWriter, r *http.Request) *middleware.Session {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil
	}
	if !model.RoleAtLeast(session.Role, model.RoleAdmin) {
		writeError(w, http.StatusForbidden, "Insufficient permissions",
			map[string]interface{}{"required_role": model.RoleAdmin})
		return nil
	}
	return session
}

// Create mints a new API key. The raw key appears in this response only.
// POST /api/keys
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	session := h.requireAdmin(w, r)
	if session == nil {
		return
	}

	var req struct {
		Name      string     `json:"name"`
		Scopes    []string   `json:"scopes"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	key, raw, err := h.svc.CreateKey(r.Context(), session.OrganizationID, req.Name, req.Scopes, req.ExpiresAt)
	if err != nil {
		h.log.Error("key creation failed", "organization_id", session.OrganizationID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"api_key": raw,
		"key":     key,
	})
}

// List returns the organization's keys. Hashes and raw keys never appear.
// GET /api/keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	session := h.requireAdmin(w, r)
	if session == nil {
		return
	}

	keys, err := h.svc.Store().ListAPIKeys(r.Context(), session.OrganizationID)
	if err != nil {
		h.log.Error("key listing failed", "organization_id", session.OrganizationID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

// Revoke deactivates a key.
// DELETE /api/keys/{keyId}
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	session := h.requireAdmin(w, r)
	if session == nil {
		return
	}

	key, ok := h.ownedKey(w, r, session)
	if !ok {
		return
	}
	if err := h.svc.RevokeKey(r.Context(), key.ID); err != nil {
		h.log.Error("key revocation failed", "api_key_id", key.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": true, "id": key.ID})
}

// Refresh rotates a key: the old credential is deactivated and a fresh raw
// key is returned once.
// POST /api/keys/{keyId}/refresh
func (h *KeyHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session := h.requireAdmin(w, r)
	if session == nil {
		return
	}

	key, ok := h.ownedKey(w, r, session)
	if !ok {
		return
	}
	fresh, raw, err := h.svc.RefreshKey(r.Context(), key.ID)
	if err != nil {
		h.log.Error("key refresh failed", "api_key_id", key.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"api_key": raw,
		"key":     fresh,
	})
}

// ownedKey loads the addressed key and verifies it belongs to the caller's
// organization. Cross-tenant key IDs look like missing keys.
func (h *KeyHandler) ownedKey(w http.ResponseWriter, r *http.Request, session *middleware.Session) (*model.APIKey, bool) {
	keyID := chi.URLParam(r, "keyId")
	key, err := h.svc.Store().GetAPIKey(r.Context(), keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Resource not found")
			return nil, false
		}
		h.log.Error("key lookup failed", "api_key_id", keyID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
		return nil, false
	}
	if key.OrganizationID != session.OrganizationID {
		writeError(w, http.StatusNotFound, "Resource not found")
		return nil, false
	}
	return key, true
}
