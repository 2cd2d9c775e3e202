package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iotmesh/iotgate/internal/audit"
	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/ratelimit"
	"github.com/iotmesh/iotgate/internal/service"
	"github.com/iotmesh/iotgate/internal/store"
)

type testEnv struct {
	store   *store.Store
	gateway *Gateway
	org     *model.Organization
}

func newTestEnv(t *testing.T, hourlyLimit int64) *testEnv {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	org := &model.Organization{Name: "org-" + t.Name(), IsActive: true}
	if hourlyLimit > 0 {
		org.RequestsPerHour = &hourlyLimit
	}
	if err := st.CreateOrganization(context.Background(), org); err != nil {
		t.Fatalf("seed org: %v", err)
	}

	auth := service.New(st, log, []byte("test-secret"), time.Hour)
	gw := New(auth, ratelimit.New(st, log), audit.New(st, log), log)
	return &testEnv{store: st, gateway: gw, org: org}
}

func (env *testEnv) issueKey(t *testing.T) (*model.APIKey, string) {
	t.Helper()
	auth := service.New(env.store, slog.New(slog.NewTextHandler(io.Discard, nil)), []byte("test-secret"), time.Hour)
	key, raw, err := auth.CreateKey(context.Background(), env.org.ID, "test", []string{"read"}, nil)
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	return key, raw
}

func doRequest(h http.HandlerFunc, method string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestValidateKeySuccess(t *testing.T) {
	env := newTestEnv(t, 0)
	key, raw := env.issueKey(t)

	rec := doRequest(env.gateway.ValidateKeyHandler(), "POST",
		map[string]string{"Authorization": "Bearer " + raw})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true {
		t.Error("success = false")
	}
	if body["api_key_id"] != key.ID {
		t.Errorf("api_key_id = %v, want %s", body["api_key_id"], key.ID)
	}
	if body["organization_id"] != env.org.ID {
		t.Errorf("organization_id = %v, want %s", body["organization_id"], env.org.ID)
	}
	if _, ok := body["processing_time_ms"]; !ok {
		t.Error("envelope missing processing_time_ms")
	}
}

func TestValidateKeyFailures(t *testing.T) {
	env := newTestEnv(t, 0)

	expiredAt := time.Now().Add(-time.Second)
	auth := service.New(env.store, slog.New(slog.NewTextHandler(io.Discard, nil)), []byte("test-secret"), time.Hour)
	_, expiredRaw, err := auth.CreateKey(context.Background(), env.org.ID, "expired", nil, &expiredAt)
	if err != nil {
		t.Fatalf("expired key: %v", err)
	}
	disabled, disabledRaw, err := auth.CreateKey(context.Background(), env.org.ID, "disabled", nil, nil)
	if err != nil {
		t.Fatalf("disabled key: %v", err)
	}
	if err := auth.RevokeKey(context.Background(), disabled.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	cases := []struct {
		name   string
		header string
		status int
		msg    string
	}{
		{"missing header", "", 400, "Missing Authorization header"},
		{"bad format", "Bearer nope", 400, "Invalid authorization format: expected Bearer iot_<key>"},
		{"wrong scheme", "Basic abc", 400, "Invalid authorization format: expected Bearer iot_<key>"},
		{"unknown key", "Bearer iot_" + strings.Repeat("f", 32), 401, "Invalid API key"},
		{"expired", "Bearer " + expiredRaw, 401, "API key has expired"},
		{"disabled", "Bearer " + disabledRaw, 403, "API key is disabled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.header != "" {
				headers["Authorization"] = tc.header
			}
			rec := doRequest(env.gateway.ValidateKeyHandler(), "POST", headers)
			if rec.Code != tc.status {
				t.Errorf("status = %d, want %d", rec.Code, tc.status)
			}
			if got := decode(t, rec)["error"]; got != tc.msg {
				t.Errorf("error = %v, want %q", got, tc.msg)
			}
		})
	}
}

func TestRateLimitEndpointCommits(t *testing.T) {
	env := newTestEnv(t, 2)
	key, _ := env.issueKey(t)

	for i := 0; i < 2; i++ {
		rec := doRequest(env.gateway.RateLimitHandler(), "POST",
			map[string]string{"x-api-key-id": key.ID})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
		if body := decode(t, rec); body["rate_limit_allowed"] != true {
			t.Errorf("request %d rate_limit_allowed = %v", i, body["rate_limit_allowed"])
		}
	}

	rec := doRequest(env.gateway.RateLimitHandler(), "POST",
		map[string]string{"x-api-key-id": key.ID})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := decode(t, rec)
	if body["error"] != "Rate limit exceeded" {
		t.Errorf("error = %v", body["error"])
	}
	if body["rate_limit_allowed"] != false {
		t.Errorf("rate_limit_allowed = %v, want false", body["rate_limit_allowed"])
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset header on denial")
	}
}

func TestRateLimitCheckDoesNotConsume(t *testing.T) {
	env := newTestEnv(t, 5)
	key, _ := env.issueKey(t)

	for i := 0; i < 10; i++ {
		rec := doRequest(env.gateway.RateLimitCheckHandler(), "POST",
			map[string]string{"x-api-key-id": key.ID})
		if rec.Code != http.StatusOK {
			t.Fatalf("check %d status = %d", i, rec.Code)
		}
	}

	buckets, err := env.store.ListBuckets(context.Background(), key.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if buckets[0].Count != 0 {
		t.Errorf("check-only endpoint consumed %d units", buckets[0].Count)
	}
}

func TestRateLimitStoreFailureIsFatal(t *testing.T) {
	env := newTestEnv(t, 5)
	key, _ := env.issueKey(t)
	env.store.Close()

	rec := doRequest(env.gateway.RateLimitHandler(), "POST",
		map[string]string{"x-api-key-id": key.ID})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decode(t, rec)["error"]; got != "Rate limit check failed" {
		t.Errorf("error = %v", got)
	}
}

func TestRateLimitMissingHeader(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := doRequest(env.gateway.RateLimitHandler(), "POST", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOrchestratorSuccess(t *testing.T) {
	env := newTestEnv(t, 10)
	key, raw := env.issueKey(t)

	rec := doRequest(env.gateway.AuthHandler(), "POST",
		map[string]string{"Authorization": "Bearer " + raw})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["rate_limit_allowed"] != true {
		t.Errorf("rate_limit_allowed = %v, want true", body["rate_limit_allowed"])
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset header")
	}

	// Admission consumed one unit.
	buckets, err := env.store.ListBuckets(context.Background(), key.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if buckets[0].Count != 1 {
		t.Errorf("count = %d, want 1", buckets[0].Count)
	}
}

func TestOrchestratorIdentityBeforeQuota(t *testing.T) {
	env := newTestEnv(t, 0)
	key, raw := env.issueKey(t)

	// Exhaust a zero-limit bucket so quota would deny if it ran first.
	b := &model.RateLimitBucket{
		APIKeyID:   key.ID,
		BucketType: model.BucketHourly,
		Count:      0,
		Limit:      0,
		ResetTime:  time.Now().Add(time.Hour),
	}
	if err := env.store.CreateBucket(context.Background(), b); err != nil {
		t.Fatalf("bucket: %v", err)
	}

	// Bad credential with exhausted quota: identity failure wins.
	rec := doRequest(env.gateway.AuthHandler(), "POST",
		map[string]string{"Authorization": "Bearer iot_" + strings.Repeat("0", 32)})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 (identity before quota)", rec.Code)
	}

	// Good credential hits the quota wall.
	rec = doRequest(env.gateway.AuthHandler(), "POST",
		map[string]string{"Authorization": "Bearer " + raw})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestOrchestratorUnlimitedKey(t *testing.T) {
	env := newTestEnv(t, 0)
	_, raw := env.issueKey(t)

	rec := doRequest(env.gateway.AuthHandler(), "POST",
		map[string]string{"Authorization": "Bearer " + raw})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d for bucketless key, want 200", rec.Code)
	}
}

func TestPreflightBypassesAuth(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := doRequest(env.gateway.AuthHandler(), http.MethodOptions, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS headers on preflight")
	}
}
