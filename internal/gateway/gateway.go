// Package gateway assembles the authentication pipelines: the key
// validator, the rate-limit checker, and the orchestrator that runs
// identity and quota as one in-process call chain.
package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/iotmesh/iotgate/internal/audit"
	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/pipeline"
	"github.com/iotmesh/iotgate/internal/ratelimit"
	"github.com/iotmesh/iotgate/internal/service"
)

// Context keys shared between pipeline stages.
const (
	ctxAPIKeyID = "api_key_id"
	ctxOrgID    = "organization_id"
	ctxScopes   = "scopes"
	ctxDecision = "rate_limit_decision"
)

// Gateway wires the auth service and rate-limit engine into HTTP pipelines.
// Everything is injected; construct one per server.
type Gateway struct {
	auth   *service.Service
	limits *ratelimit.Engine
	audit  *audit.Logger
	log    *slog.Logger
}

func New(auth *service.Service, limits *ratelimit.Engine, auditLog *audit.Logger, log *slog.Logger) *Gateway {
	return &Gateway{auth: auth, limits: limits, audit: auditLog, log: log}
}

// ValidateKeyHandler authenticates a credential without touching quota.
func (g *Gateway) ValidateKeyHandler() http.HandlerFunc {
	return pipeline.Handler(g.log,
		pipeline.CORS(),
		pipeline.Logging(g.log),
		g.validateCredential(),
		g.respondValidated(),
	)
}

// RateLimitHandler checks quota for an already-validated key and consumes
// one unit when admitted. The key is named by the x-api-key-id header.
func (g *Gateway) RateLimitHandler() http.HandlerFunc {
	return pipeline.Handler(g.log,
		pipeline.CORS(),
		pipeline.Logging(g.log),
		g.checkQuota(true),
		g.respondQuota(),
	)
}

// RateLimitCheckHandler answers "would this request fit" without consuming
// quota. Dashboards poll it to display remaining headroom.
func (g *Gateway) RateLimitCheckHandler() http.HandlerFunc {
	return pipeline.Handler(g.log,
		pipeline.CORS(),
		pipeline.Logging(g.log),
		g.checkQuota(false),
		g.respondQuota(),
	)
}

// AuthHandler is the orchestrator: credential first, then quota, then one
// committed unit of usage. Identity failures win over quota failures.
func (g *Gateway) AuthHandler() http.HandlerFunc {
	return pipeline.Handler(g.log,
		pipeline.CORS(),
		pipeline.Logging(g.log),
		g.validateCredential(),
		g.quotaForValidatedKey(),
		g.respondAuthorized(),
	)
}

// validateCredential resolves the Authorization header to an API key and
// threads its identity into the context.
func (g *Gateway) validateCredential() pipeline.Middleware {
	return func(ctx *pipeline.Context) (*pipeline.Response, error) {
		key, err := g.auth.ValidateAPIKey(ctx.Request.Context(), ctx.Request.Header.Get("Authorization"))
		if err != nil {
			perr := credentialError(err)
			g.record(ctx, "", "", pipeline.StatusFor(perr))
			return nil, perr
		}
		ctx.Set(ctxAPIKeyID, key.ID)
		ctx.Set(ctxOrgID, key.OrganizationID)
		ctx.Set(ctxScopes, key.Scopes)
		return nil, nil
	}
}

// credentialError maps service failures to tagged pipeline errors with the
// exact messages clients are written against.
func credentialError(err error) error {
	switch {
	case errors.Is(err, service.ErrMissingAuth):
		return pipeline.BadRequest("Missing Authorization header")
	case errors.Is(err, service.ErrMalformedAuth):
		return pipeline.BadRequest("Invalid authorization format: expected Bearer iot_<key>")
	case errors.Is(err, service.ErrKeyExpired):
		return pipeline.Unauthorized("API key has expired")
	case errors.Is(err, service.ErrKeyDisabled):
		return pipeline.Forbidden("API key is disabled")
	case errors.Is(err, service.ErrInvalidKey):
		return pipeline.Unauthorized("Invalid API key")
	default:
		return err
	}
}

// checkQuota evaluates the bucket set for the key named by x-api-key-id,
// optionally consuming a unit on admission.
func (g *Gateway) checkQuota(commit bool) pipeline.Middleware {
	return func(ctx *pipeline.Context) (*pipeline.Response, error) {
		keyID := ctx.Request.Header.Get("x-api-key-id")
		if keyID == "" {
			return nil, pipeline.BadRequest("Missing x-api-key-id header")
		}
		ctx.Set(ctxAPIKeyID, keyID)

		d, err := g.limits.Check(ctx.Request.Context(), keyID)
		if err != nil {
			g.log.Error("rate limit check failed", "api_key_id", keyID, "error", err)
			g.record(ctx, keyID, "", http.StatusInternalServerError)
			return nil, pipeline.Internal("Rate limit check failed")
		}
		if !d.Allowed {
			g.record(ctx, keyID, "", http.StatusTooManyRequests)
			return nil, pipeline.RateLimited("Rate limit exceeded", d.ResetTime)
		}
		if commit {
			g.limits.Commit(ctx.Request.Context(), keyID)
		}
		ctx.Set(ctxDecision, d)
		return nil, nil
	}
}

// quotaForValidatedKey runs the quota step of the orchestrator, keyed by the
// identity the credential stage established.
func (g *Gateway) quotaForValidatedKey() pipeline.Middleware {
	return func(ctx *pipeline.Context) (*pipeline.Response, error) {
		keyID := ctx.GetString(ctxAPIKeyID)

		d, err := g.limits.Check(ctx.Request.Context(), keyID)
		if err != nil {
			g.log.Error("rate limit check failed", "api_key_id", keyID, "error", err)
			g.record(ctx, keyID, ctx.GetString(ctxOrgID), http.StatusInternalServerError)
			return nil, pipeline.Internal("Rate limit check failed")
		}
		if !d.Allowed {
			g.record(ctx, keyID, ctx.GetString(ctxOrgID), http.StatusTooManyRequests)
			return nil, pipeline.RateLimited("Rate limit exceeded", d.ResetTime)
		}
		g.limits.Commit(ctx.Request.Context(), keyID)
		ctx.Set(ctxDecision, d)
		return nil, nil
	}
}

func (g *Gateway) respondValidated() pipeline.Middleware {
	return func(ctx *pipeline.Context) (*pipeline.Response, error) {
		g.record(ctx, ctx.GetString(ctxAPIKeyID), ctx.GetString(ctxOrgID), http.StatusOK)
		return pipeline.NewResponse(http.StatusOK, g.envelope(ctx, nil)), nil
	}
}

func (g *Gateway) respondQuota() pipeline.Middleware {
	return func(ctx *pipeline.Context) (*pipeline.Response, error) {
		allowed := true
		resp := pipeline.NewResponse(http.StatusOK, map[string]any{
			"success":            true,
			"rate_limit_allowed": allowed,
			"processing_time_ms": ctx.Elapsed().Milliseconds(),
			"timestamp":          time.Now().UTC().Format(time.RFC3339),
		})
		setRateHeaders(resp, ctx)
		g.record(ctx, ctx.GetString(ctxAPIKeyID), "", http.StatusOK)
		return resp, nil
	}
}

func (g *Gateway) respondAuthorized() pipeline.Middleware {
	return func(ctx *pipeline.Context) (*pipeline.Response, error) {
		allowed := true
		resp := pipeline.NewResponse(http.StatusOK, g.envelope(ctx, &allowed))
		setRateHeaders(resp, ctx)
		g.record(ctx, ctx.GetString(ctxAPIKeyID), ctx.GetString(ctxOrgID), http.StatusOK)
		return resp, nil
	}
}

// envelope builds the uniform success body shared by the auth endpoints.
func (g *Gateway) envelope(ctx *pipeline.Context, rateLimitAllowed *bool) model.AuthResponse {
	scopes, _ := ctx.Get(ctxScopes)
	s, _ := scopes.([]string)
	return model.AuthResponse{
		Success:          true,
		APIKeyID:         ctx.GetString(ctxAPIKeyID),
		OrganizationID:   ctx.GetString(ctxOrgID),
		Scopes:           s,
		RateLimitAllowed: rateLimitAllowed,
		ProcessingTimeMs: ctx.Elapsed().Milliseconds(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}
}

// setRateHeaders stamps the quota headers from the tightest bucket.
func setRateHeaders(resp *pipeline.Response, ctx *pipeline.Context) {
	v, ok := ctx.Get(ctxDecision)
	if !ok {
		return
	}
	d, ok := v.(ratelimit.Decision)
	if !ok || d.ResetTime.IsZero() {
		return
	}
	resp.Header.Set("X-RateLimit-Reset", d.ResetTime.UTC().Format(time.RFC3339))
}

func (g *Gateway) record(ctx *pipeline.Context, keyID, orgID string, status int) {
	if g.audit == nil {
		return
	}
	r := ctx.Request
	g.audit.Record(keyID, orgID, r.URL.Path, r.Method, status, ctx.Elapsed(), r.RemoteAddr, r.UserAgent())
}
