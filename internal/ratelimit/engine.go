package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/store"
)

// Decision is the outcome of a quota check. When Allowed is false, ResetTime
// names when the exhausted window reopens. Limit and Remaining describe the
// tightest bucket so callers can emit rate-limit headers.
type Decision struct {
	Allowed    bool
	BucketType string
	Limit      int64
	Remaining  int64
	ResetTime  time.Time
}

// Engine evaluates and records quota usage against per-key buckets.
//
// Checking and committing are separate steps: Check answers "would this
// request fit" without consuming quota, and Commit burns one unit across
// every live window after the request has been admitted.
type Engine struct {
	store *store.Store
	log   *slog.Logger
}

func New(st *store.Store, log *slog.Logger) *Engine {
	return &Engine{store: st, log: log}
}

// Check evaluates every bucket for the key. Expired windows are reset before
// evaluation. A key with no buckets is unlimited; a store failure is fatal to
// the check, never silently admitted.
func (e *Engine) Check(ctx context.Context, apiKeyID string) (Decision, error) {
	now := time.Now().UTC()

	buckets, err := e.store.ListBuckets(ctx, apiKeyID)
	if err != nil {
		return Decision{}, fmt.Errorf("list buckets: %w", err)
	}
	if len(buckets) == 0 {
		return Decision{Allowed: true}, nil
	}

	decision := Decision{Allowed: true, Remaining: -1}
	for _, b := range buckets {
		if !b.ResetTime.After(now) {
			next := model.NextResetTime(b.BucketType, now)
			if err := e.store.ResetBucket(ctx, b.ID, next); err != nil {
				return Decision{}, fmt.Errorf("reset bucket %s: %w", b.ID, err)
			}
			b.Count = 0
			b.ResetTime = next
		}

		if b.Count >= b.Limit {
			return Decision{
				Allowed:    false,
				BucketType: b.BucketType,
				Limit:      b.Limit,
				Remaining:  0,
				ResetTime:  b.ResetTime,
			}, nil
		}
		if remaining := b.Limit - b.Count; decision.Remaining < 0 || remaining < decision.Remaining {
			decision.BucketType = b.BucketType
			decision.Limit = b.Limit
			decision.Remaining = remaining
			decision.ResetTime = b.ResetTime
		}
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	return decision, nil
}

// Commit consumes one unit of quota across every window that is still open.
// The increment runs inside the database so concurrent commits all land.
// Failures are logged and swallowed; the request was already admitted.
func (e *Engine) Commit(ctx context.Context, apiKeyID string) {
	if err := e.store.IncrementLiveBuckets(ctx, apiKeyID, time.Now().UTC()); err != nil {
		e.log.Error("rate limit commit failed", "api_key_id", apiKeyID, "error", err)
	}
}
