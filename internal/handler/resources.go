package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iotmesh/iotgate/internal/backend"
	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/server/middleware"
	"github.com/iotmesh/iotgate/internal/store"
)

// ResourceHandler routes authenticated dashboard traffic to the in-process
// backend functions. It enforces tenancy and role checks before any backend
// sees the request; backends trust the context it injects.
type ResourceHandler struct {
	store    *store.Store
	registry *backend.Registry
	log      *slog.Logger
}

func NewResourceHandler(st *store.Store, registry *backend.Registry, log *slog.Logger) *ResourceHandler {
	return &ResourceHandler{store: st, registry: registry, log: log}
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// requiredRole returns the minimum role for a method: reads need member,
// mutations need admin.
func requiredRole(method string) string {
	if method == http.MethodGet {
		return model.RoleMember
	}
	return model.RoleAdmin
}

// authorize runs the pre-checks every authenticated API route shares:
// session presence, the tenant re-check, the role gate for the method, and
// content-type validation for bodied methods. It writes the denial and
// returns nil when the request fails a check.
func authorize(w http.ResponseWriter, r *http.Request, st *store.Store, log *slog.Logger) *middleware.Session {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil
	}

	// The organization is re-checked on every request: a tenant disabled
	// mid-session loses access immediately.
	org, err := st.GetOrganization(r.Context(), session.OrganizationID)
	if err != nil || !org.IsActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error("organization lookup failed", "organization_id", session.OrganizationID, "error", err)
		}
		writeError(w, http.StatusForbidden, "Organization not found or inaccessible")
		return nil
	}

	need := requiredRole(r.Method)
	if !model.RoleAtLeast(session.Role, need) {
		writeError(w, http.StatusForbidden, "Insufficient permissions",
			map[string]interface{}{"required_role": need})
		return nil
	}

	if hasBody(r.Method) {
		ct := r.Header.Get("Content-Type")
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil {
			mediaType = ""
		}
		if mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded" {
			writeError(w, http.StatusBadRequest, "Content-Type must be application/json",
				map[string]interface{}{"received": ct})
			return nil
		}
	}
	return session
}

// AccessGate applies the shared pre-checks as chi middleware, for routes
// that handle their own bodies like the MCP surface. Tool execution is a
// mutation, so it falls under the same admin gate as resource writes.
func AccessGate(st *store.Store, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authorize(w, r, st, log) == nil {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Forward handles /api/{resource} and /api/{resource}/{id}.
func (h *ResourceHandler) Forward(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, chi.URLParam(r, "resource"))
}

// DeviceReadings handles /api/devices/{id}/readings by dispatching to the
// data backend with the device id as the resource id.
func (h *ResourceHandler) DeviceReadings(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "data")
}

func (h *ResourceHandler) forward(w http.ResponseWriter, r *http.Request, resource string) {
	session := authorize(w, r, h.store, h.log)
	if session == nil {
		return
	}

	var body map[string]any
	if hasBody(r.Method) {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "application/json":
			raw, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
				return
			}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &body); err != nil {
					writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
					return
				}
			}
		case "application/x-www-form-urlencoded":
			if err := r.ParseForm(); err != nil {
				writeError(w, http.StatusBadRequest, "Malformed form body")
				return
			}
			body = map[string]any{}
			for k := range r.PostForm {
				body[k] = r.PostForm.Get(k)
			}
		}
	}
	if body == nil {
		body = map[string]any{}
	}

	req := &backend.Request{
		OrganizationID: session.OrganizationID,
		UserID:         session.UserID,
		UserRole:       session.Role,
		Method:         r.Method,
		ResourceID:     chi.URLParam(r, "id"),
		Query:          r.URL.Query(),
		Body:           body,
		Timestamp:      time.Now().UTC(),
	}

	result, err := h.registry.Invoke(r.Context(), resource, req)
	if err != nil {
		h.renderBackendError(w, r, resource, err)
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost && req.ResourceID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (h *ResourceHandler) renderBackendError(w http.ResponseWriter, r *http.Request, resource string, err error) {
	switch {
	case errors.Is(err, backend.ErrUnknownFunction):
		writeError(w, http.StatusNotFound, "Unknown resource")
	case errors.Is(err, backend.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Resource not found")
	default:
		h.log.Error("backend invocation failed",
			"resource", resource,
			"method", r.Method,
			"error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
	}
}
