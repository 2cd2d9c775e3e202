package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/service"
	"github.com/iotmesh/iotgate/internal/store"
)

type contextKeySession string

// SessionKey is the context key for the authenticated session.
const SessionKey contextKeySession = "session"

// Session is the resolved identity behind a dashboard request. A JWT resolves
// to a user plus their membership; an API key resolves to the key's
// organization with a role derived from its scopes.
type Session struct {
	UserID         string
	APIKeyID       string
	OrganizationID string
	Role           string
	Scopes         []string
}

// roleForScopes maps an API key's scope strings onto the membership role
// hierarchy so keys pass the same gates as users: write or admin scope acts
// as admin, read as member. A key with no scopes is unrestricted, the same
// convention as a key with no rate buckets.
func roleForScopes(scopes []string) string {
	if len(scopes) == 0 {
		return model.RoleAdmin
	}
	role := model.RoleViewer
	for _, s := range scopes {
		switch s {
		case "admin", "write":
			return model.RoleAdmin
		case "read":
			role = model.RoleMember
		}
	}
	return role
}

// Authenticate resolves the Authorization header to a session. Bearer tokens
// prefixed iot_ are validated as API keys; anything else is parsed as a
// session JWT and resolved to the user's organization membership. Requests
// without a valid credential never reach the handlers.
func Authenticate(authSvc *service.Service, st *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeSessionError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			var session *Session
			if strings.HasPrefix(token, "iot_") {
				key, err := authSvc.ValidateAPIKey(r.Context(), authHeader)
				if err != nil {
					writeKeyError(w, err)
					return
				}
				session = &Session{
					APIKeyID:       key.ID,
					OrganizationID: key.OrganizationID,
					Role:           roleForScopes(key.Scopes),
					Scopes:         key.Scopes,
				}
			} else {
				userID, err := authSvc.ValidateToken(token)
				if err != nil {
					if errors.Is(err, service.ErrTokenExpired) {
						writeSessionError(w, http.StatusUnauthorized, "Token expired")
						return
					}
					writeSessionError(w, http.StatusUnauthorized, "Invalid token")
					return
				}

				m, err := st.GetMembershipByUser(r.Context(), userID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						writeSessionError(w, http.StatusForbidden, "No organization membership")
						return
					}
					writeSessionError(w, http.StatusInternalServerError, "Internal processing error")
					return
				}
				session = &Session{
					UserID:         userID,
					OrganizationID: m.OrganizationID,
					Role:           m.Role,
				}
			}

			ctx := context.WithValue(r.Context(), SessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession extracts the authenticated session from the context. Returns
// nil for unauthenticated requests.
func GetSession(ctx context.Context) *Session {
	if s, ok := ctx.Value(SessionKey).(*Session); ok {
		return s
	}
	return nil
}

func writeKeyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrKeyDisabled):
		writeSessionError(w, http.StatusForbidden, "API key is disabled")
	case errors.Is(err, service.ErrKeyExpired):
		writeSessionError(w, http.StatusUnauthorized, "API key has expired")
	default:
		writeSessionError(w, http.StatusUnauthorized, "Invalid API key")
	}
}

func writeSessionError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
