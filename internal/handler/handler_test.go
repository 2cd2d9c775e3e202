package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iotmesh/iotgate/internal/backend"
	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/server/middleware"
	"github.com/iotmesh/iotgate/internal/service"
	"github.com/iotmesh/iotgate/internal/store"
)

type testEnv struct {
	store  *store.Store
	svc    *service.Service
	router chi.Router
	org    *model.Organization
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(st, log, []byte("test-secret"), time.Hour)

	org := &model.Organization{Name: "org-" + t.Name(), IsActive: true}
	if err := st.CreateOrganization(context.Background(), org); err != nil {
		t.Fatalf("seed org: %v", err)
	}

	registry := backend.NewDefault(st, log)
	resources := NewResourceHandler(st, registry, log)
	keys := NewKeyHandler(svc, log)
	mcp := NewMCPHandler(st, registry, log)
	auth := NewAuthHandler(svc, log)

	r := chi.NewRouter()
	r.Post("/auth/login", auth.Login)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(svc, st))

		r.Route("/api/keys", func(r chi.Router) {
			r.Post("/", keys.Create)
			r.Get("/", keys.List)
			r.Delete("/{keyId}", keys.Revoke)
			r.Post("/{keyId}/refresh", keys.Refresh)
		})

		r.Route("/api/mcp", func(r chi.Router) {
			r.Use(AccessGate(st, log))
			r.Get("/capabilities", mcp.Capabilities)
			r.Get("/tools", mcp.Tools)
			r.Post("/tools/execute", mcp.ExecuteTool)
			r.Get("/resources", mcp.Resources)
			r.Get("/prompts", mcp.Prompts)
			r.Get("/context", mcp.Context)
		})

		r.HandleFunc("/api/{resource}", resources.Forward)
		r.HandleFunc("/api/{resource}/{id}", resources.Forward)
	})

	return &testEnv{store: st, svc: svc, router: r, org: org}
}

// userToken creates a user with the given role in the test org and returns a
// session token.
func (env *testEnv) userToken(t *testing.T, role string) string {
	t.Helper()
	ctx := context.Background()
	hash, err := service.HashPassword("pw")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &model.User{Email: role + "-" + t.Name() + "@example.com", PasswordHash: hash, IsActive: true}
	if err := env.store.CreateUser(ctx, u); err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := env.store.AddMember(ctx, &model.Member{OrganizationID: env.org.ID, UserID: u.ID, Role: role}); err != nil {
		t.Fatalf("member: %v", err)
	}
	token, err := env.svc.IssueToken(u)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any, headers ...map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(headers) > 0 {
		for k, v := range headers[0] {
			req.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	env.userToken(t, model.RoleMember) // creates the user

	rec := env.do(t, "POST", "/auth/login", "", map[string]any{
		"email":    model.RoleMember + "-" + t.Name() + "@example.com",
		"password": "pw",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["token"] == "" {
		t.Error("login returned no token")
	}

	rec = env.do(t, "POST", "/auth/login", "", map[string]any{
		"email":    model.RoleMember + "-" + t.Name() + "@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", rec.Code)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/devices", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = env.do(t, "GET", "/api/devices", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}
}

func TestRoleGating(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.userToken(t, model.RoleViewer)
	member := env.userToken(t, model.RoleMember)
	admin := env.userToken(t, model.RoleAdmin)

	// Viewer cannot even read.
	rec := env.do(t, "GET", "/api/devices", viewer, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer GET = %d, want 403", rec.Code)
	}
	if got := decode(t, rec)["required_role"]; got != model.RoleMember {
		t.Errorf("required_role = %v, want member", got)
	}

	// Member reads but cannot mutate.
	rec = env.do(t, "GET", "/api/devices", member, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("member GET = %d, want 200", rec.Code)
	}
	rec = env.do(t, "POST", "/api/devices", member, map[string]any{"name": "x"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("member POST = %d, want 403", rec.Code)
	}
	if got := decode(t, rec)["required_role"]; got != model.RoleAdmin {
		t.Errorf("required_role = %v, want admin", got)
	}

	// Admin mutates.
	rec = env.do(t, "POST", "/api/devices", admin, map[string]any{"name": "pump-1"})
	if rec.Code != http.StatusCreated {
		t.Errorf("admin POST = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestContentTypeValidation(t *testing.T) {
	env := newTestEnv(t)
	admin := env.userToken(t, model.RoleAdmin)

	req := httptest.NewRequest("POST", "/api/devices", bytes.NewBufferString(`{"name":"x"}`))
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decode(t, rec)
	if body["error"] != "Content-Type must be application/json" {
		t.Errorf("error = %v", body["error"])
	}
	if body["received"] != "text/plain" {
		t.Errorf("received = %v, want text/plain", body["received"])
	}
}

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t)
	admin := env.userToken(t, model.RoleAdmin)

	rec := env.do(t, "POST", "/api/devices", admin, `{"name": oops}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decode(t, rec)["error"]; got != "Invalid JSON in request body" {
		t.Errorf("error = %v", got)
	}
}

func TestDeactivatedOrganizationLosesAccess(t *testing.T) {
	env := newTestEnv(t)
	member := env.userToken(t, model.RoleMember)

	if err := env.store.SetOrganizationActive(context.Background(), env.org.ID, false); err != nil {
		t.Fatalf("deactivate org: %v", err)
	}

	rec := env.do(t, "GET", "/api/devices", member, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if got := decode(t, rec)["error"]; got != "Organization not found or inaccessible" {
		t.Errorf("error = %v", got)
	}
}

func TestUnknownResource(t *testing.T) {
	env := newTestEnv(t)
	member := env.userToken(t, model.RoleMember)

	rec := env.do(t, "GET", "/api/nonsense", member, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestKeyManagementLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.userToken(t, model.RoleAdmin)
	member := env.userToken(t, model.RoleMember)

	// Member is below the admin threshold.
	rec := env.do(t, "POST", "/api/keys", member, map[string]any{"name": "nope"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("member create = %d, want 403", rec.Code)
	}

	rec = env.do(t, "POST", "/api/keys", admin, map[string]any{
		"name":   "ingest",
		"scopes": []string{"read"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", rec.Code, rec.Body.String())
	}
	created := decode(t, rec)
	raw, _ := created["api_key"].(string)
	if raw == "" {
		t.Fatal("raw key missing from create response")
	}
	keyInfo := created["key"].(map[string]any)
	keyID := keyInfo["id"].(string)

	// Listing never exposes the hash or raw key.
	rec = env.do(t, "GET", "/api/keys", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte(raw)) {
		t.Error("raw key leaked in listing")
	}

	// Refresh rotates.
	rec = env.do(t, "POST", "/api/keys/"+keyID+"/refresh", admin, map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d, body = %s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["api_key"] == raw {
		t.Error("refresh returned the old raw key")
	}

	// Old key is now inactive.
	old, err := env.store.GetAPIKey(context.Background(), keyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if old.IsActive {
		t.Error("old key still active after refresh")
	}

	// Revoke on a fresh key.
	rec = env.do(t, "POST", "/api/keys", admin, map[string]any{"name": "tmp"})
	tmpID := decode(t, rec)["key"].(map[string]any)["id"].(string)
	rec = env.do(t, "DELETE", "/api/keys/"+tmpID, admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke = %d", rec.Code)
	}
}

func TestKeyCrossTenantHidden(t *testing.T) {
	env := newTestEnv(t)
	admin := env.userToken(t, model.RoleAdmin)

	other := &model.Organization{Name: "other-" + t.Name(), IsActive: true}
	if err := env.store.CreateOrganization(context.Background(), other); err != nil {
		t.Fatalf("org: %v", err)
	}
	foreign, _, err := env.svc.CreateKey(context.Background(), other.ID, "foreign", nil, nil)
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	rec := env.do(t, "DELETE", "/api/keys/"+foreign.ID, admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant revoke = %d, want 404", rec.Code)
	}
}

func TestMCPCapabilitiesAndTools(t *testing.T) {
	env := newTestEnv(t)
	member := env.userToken(t, model.RoleMember)

	rec := env.do(t, "GET", "/api/mcp/capabilities", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("capabilities = %d", rec.Code)
	}
	caps := decode(t, rec)
	tools := caps["tools"].([]any)
	names := map[string]bool{}
	for _, tl := range tools {
		names[tl.(map[string]any)["name"].(string)] = true
	}
	for _, want := range []string{"get_device_status", "get_device_readings", "trigger_endpoint"} {
		if !names[want] {
			t.Errorf("tool %q not advertised", want)
		}
	}
}

func TestMCPToolExecution(t *testing.T) {
	env := newTestEnv(t)
	admin := env.userToken(t, model.RoleAdmin)
	ctx := context.Background()

	d := &model.Device{OrganizationID: env.org.ID, Name: "thermo", Status: "online"}
	if err := env.store.CreateDevice(ctx, d); err != nil {
		t.Fatalf("device: %v", err)
	}
	for i := 0; i < 3; i++ {
		r := &model.Reading{DeviceID: d.ID, OrganizationID: env.org.ID, ReadingType: "temperature", Value: float64(20 + i)}
		if err := env.store.InsertReading(ctx, r); err != nil {
			t.Fatalf("reading: %v", err)
		}
	}

	rec := env.do(t, "POST", "/api/mcp/tools/execute", admin, map[string]any{
		"tool":      "get_device_status",
		"arguments": map[string]any{"device_id": d.ID},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("get_device_status = %d, body = %s", rec.Code, rec.Body.String())
	}
	result := decode(t, rec)["result"].(map[string]any)
	if result["status"] != "online" {
		t.Errorf("status = %v, want online", result["status"])
	}

	rec = env.do(t, "POST", "/api/mcp/tools/execute", admin, map[string]any{
		"tool":      "get_device_readings",
		"arguments": map[string]any{"device_id": d.ID, "limit": 2},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("get_device_readings = %d", rec.Code)
	}
	readings := decode(t, rec)["result"].(map[string]any)
	if readings["count"] != float64(2) {
		t.Errorf("count = %v, want 2", readings["count"])
	}

	rec = env.do(t, "POST", "/api/mcp/tools/execute", admin, map[string]any{
		"tool": "no_such_tool",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown tool = %d, want 404", rec.Code)
	}
}

// Tool execution is a mutation: members read the MCP surface but cannot
// execute, and the denial names the role that could.
func TestMCPToolExecutionRoleGated(t *testing.T) {
	env := newTestEnv(t)
	member := env.userToken(t, model.RoleMember)

	rec := env.do(t, "GET", "/api/mcp/tools", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("member tools list = %d, want 200", rec.Code)
	}

	rec = env.do(t, "POST", "/api/mcp/tools/execute", member, map[string]any{
		"tool":      "get_device_status",
		"arguments": map[string]any{"device_id": "d-1"},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member tool execution = %d, want 403", rec.Code)
	}
	if got := decode(t, rec)["required_role"]; got != model.RoleAdmin {
		t.Errorf("required_role = %v, want admin", got)
	}
}

// The MCP surface goes through the same tenant re-check and content-type
// validation as every other /api route.
func TestMCPSharedPreChecks(t *testing.T) {
	env := newTestEnv(t)
	admin := env.userToken(t, model.RoleAdmin)

	req := httptest.NewRequest("POST", "/api/mcp/tools/execute", bytes.NewBufferString(`{"tool":"x"}`))
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("text/plain tool execution = %d, want 400", rec.Code)
	}
	if got := decode(t, rec)["received"]; got != "text/plain" {
		t.Errorf("received = %v, want text/plain", got)
	}

	if err := env.store.SetOrganizationActive(context.Background(), env.org.ID, false); err != nil {
		t.Fatalf("deactivate org: %v", err)
	}
	rec2 := env.do(t, "GET", "/api/mcp/tools", admin, nil)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("deactivated org MCP read = %d, want 403", rec2.Code)
	}
	if got := decode(t, rec2)["error"]; got != "Organization not found or inaccessible" {
		t.Errorf("error = %v", got)
	}
}

func TestMCPToolTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	admin := env.userToken(t, model.RoleAdmin)
	ctx := context.Background()

	other := &model.Organization{Name: "other-" + t.Name(), IsActive: true}
	if err := env.store.CreateOrganization(ctx, other); err != nil {
		t.Fatalf("org: %v", err)
	}
	d := &model.Device{OrganizationID: other.ID, Name: "foreign", Status: "online"}
	if err := env.store.CreateDevice(ctx, d); err != nil {
		t.Fatalf("device: %v", err)
	}

	rec := env.do(t, "POST", "/api/mcp/tools/execute", admin, map[string]any{
		"tool":      "get_device_status",
		"arguments": map[string]any{"device_id": d.ID},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant tool call = %d, want 404", rec.Code)
	}
}

// API keys are first-class credentials on the dashboard routes: the key's
// organization scopes the request and its scopes gate what it may do.
func TestAPIKeyCredentialOnResourceRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, readRaw, err := env.svc.CreateKey(ctx, env.org.ID, "reader", []string{"read"}, nil)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	_, writeRaw, err := env.svc.CreateKey(ctx, env.org.ID, "writer", []string{"read", "write"}, nil)
	if err != nil {
		t.Fatalf("write key: %v", err)
	}

	rec := env.do(t, "GET", "/api/mcp/tools", readRaw, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read-scoped key GET tools = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(decode(t, rec)["tools"].([]any)) < 3 {
		t.Error("tools list missing built-in descriptors")
	}

	// Read scope cannot mutate.
	rec = env.do(t, "POST", "/api/devices", readRaw, map[string]any{"name": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("read-scoped key POST = %d, want 403", rec.Code)
	}
	if got := decode(t, rec)["required_role"]; got != model.RoleAdmin {
		t.Errorf("required_role = %v, want admin", got)
	}

	// Write scope can.
	rec = env.do(t, "POST", "/api/devices", writeRaw, map[string]any{"name": "pump-9"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("write-scoped key POST = %d, body = %s", rec.Code, rec.Body.String())
	}

	// A revoked key is rejected outright.
	doomed, doomedRaw, err := env.svc.CreateKey(ctx, env.org.ID, "doomed", []string{"read"}, nil)
	if err != nil {
		t.Fatalf("doomed key: %v", err)
	}
	if err := env.svc.RevokeKey(ctx, doomed.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	rec = env.do(t, "GET", "/api/mcp/tools", doomedRaw, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("revoked key = %d, want 403", rec.Code)
	}
	if got := decode(t, rec)["error"]; got != "API key is disabled" {
		t.Errorf("error = %v", got)
	}
}

func TestMCPResourcesAndContext(t *testing.T) {
	env := newTestEnv(t)
	member := env.userToken(t, model.RoleMember)
	ctx := context.Background()

	d := &model.Device{OrganizationID: env.org.ID, Name: "thermo", Status: "online"}
	if err := env.store.CreateDevice(ctx, d); err != nil {
		t.Fatalf("device: %v", err)
	}
	for _, msg := range []string{"overheat", "offline"} {
		a := &model.AlarmEvent{OrganizationID: env.org.ID, Status: "active", Severity: "critical", Message: msg}
		if err := env.store.InsertAlarmEvent(ctx, a); err != nil {
			t.Fatalf("alarm: %v", err)
		}
	}

	rec := env.do(t, "GET", "/api/mcp/resources?uri=iot://devices", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resource read = %d", rec.Code)
	}
	content := decode(t, rec)["content"].([]any)
	if len(content) != 1 {
		t.Errorf("devices resource = %d entries, want 1", len(content))
	}

	// The alarms resource honors a limit parameter.
	rec = env.do(t, "GET", "/api/mcp/resources?uri=iot://alarms&limit=1", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("alarms read = %d", rec.Code)
	}
	if alarms := decode(t, rec)["content"].([]any); len(alarms) != 1 {
		t.Errorf("alarms resource = %d entries with limit=1, want 1", len(alarms))
	}

	rec = env.do(t, "GET", "/api/mcp/context", member, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("context = %d", rec.Code)
	}
	snapshot := decode(t, rec)
	if snapshot["device_count"] != float64(1) {
		t.Errorf("device_count = %v, want 1", snapshot["device_count"])
	}
	if len(snapshot["active_alarms"].([]any)) != 2 {
		t.Error("active alarms missing from context snapshot")
	}
}
