package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/store"
)

type testEnv struct {
	store  *store.Store
	engine *Engine
	keyID  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	org := &model.Organization{Name: "org-" + t.Name(), IsActive: true}
	if err := st.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	key := &model.APIKey{
		OrganizationID: org.ID,
		KeyHash:        "hash-" + t.Name(),
		KeyPrefix:      "iot_test...",
		IsActive:       true,
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{store: st, engine: New(st, log), keyID: key.ID}
}

func (env *testEnv) addBucket(t *testing.T, bucketType string, count, limit int64, resetTime time.Time) *model.RateLimitBucket {
	t.Helper()
	b := &model.RateLimitBucket{
		APIKeyID:   env.keyID,
		BucketType: bucketType,
		Count:      count,
		Limit:      limit,
		ResetTime:  resetTime,
	}
	if err := env.store.CreateBucket(context.Background(), b); err != nil {
		t.Fatalf("add bucket: %v", err)
	}
	return b
}

func TestCheckNoBucketsAdmits(t *testing.T) {
	env := newTestEnv(t)

	d, err := env.engine.Check(context.Background(), env.keyID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatal("key with no buckets should be unlimited")
	}
}

func TestCheckUnderLimitAdmits(t *testing.T) {
	env := newTestEnv(t)
	env.addBucket(t, model.BucketHourly, 5, 100, time.Now().Add(time.Hour))

	d, err := env.engine.Check(context.Background(), env.keyID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatal("under-limit request denied")
	}
	if d.Limit != 100 || d.Remaining != 95 {
		t.Errorf("limit/remaining = %d/%d, want 100/95", d.Limit, d.Remaining)
	}
}

func TestCheckAtLimitDenies(t *testing.T) {
	env := newTestEnv(t)
	reset := time.Now().Add(30 * time.Minute).UTC()
	env.addBucket(t, model.BucketHourly, 100, 100, reset)

	d, err := env.engine.Check(context.Background(), env.keyID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatal("at-limit request admitted")
	}
	if d.BucketType != model.BucketHourly {
		t.Errorf("bucket = %q, want hourly", d.BucketType)
	}
	if d.ResetTime.IsZero() {
		t.Error("denial carries no reset time")
	}
}

func TestCheckAnyExhaustedBucketDenies(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.addBucket(t, model.BucketHourly, 1, 100, now.Add(time.Hour))
	env.addBucket(t, model.BucketDaily, 1000, 1000, now.Add(12*time.Hour))

	d, err := env.engine.Check(context.Background(), env.keyID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatal("request admitted despite exhausted daily bucket")
	}
	if d.BucketType != model.BucketDaily {
		t.Errorf("bucket = %q, want daily", d.BucketType)
	}
}

func TestCheckResetsExpiredWindow(t *testing.T) {
	env := newTestEnv(t)
	b := env.addBucket(t, model.BucketHourly, 100, 100, time.Now().Add(-time.Minute))

	d, err := env.engine.Check(context.Background(), env.keyID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expired full bucket should reset and admit")
	}
	if d.Remaining != 100 {
		t.Errorf("remaining = %d after reset, want 100", d.Remaining)
	}

	buckets, err := env.store.ListBuckets(context.Background(), env.keyID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if buckets[0].ID != b.ID {
		t.Fatalf("unexpected bucket %q", buckets[0].ID)
	}
	if buckets[0].Count != 0 {
		t.Errorf("persisted count = %d, want 0", buckets[0].Count)
	}
	if !buckets[0].ResetTime.After(time.Now()) {
		t.Error("persisted reset_time not advanced")
	}
}

func TestCommitIncrementsLiveWindowsOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	env.addBucket(t, model.BucketHourly, 0, 100, now.Add(time.Hour))
	env.addBucket(t, model.BucketDaily, 0, 1000, now.Add(-time.Minute))

	env.engine.Commit(ctx, env.keyID)
	env.engine.Commit(ctx, env.keyID)
	env.engine.Commit(ctx, env.keyID)

	buckets, err := env.store.ListBuckets(ctx, env.keyID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	counts := map[string]int64{}
	for _, b := range buckets {
		counts[b.BucketType] = b.Count
	}
	if counts[model.BucketHourly] != 3 {
		t.Errorf("hourly count = %d, want 3", counts[model.BucketHourly])
	}
	if counts[model.BucketDaily] != 0 {
		t.Errorf("expired daily count = %d, want untouched 0", counts[model.BucketDaily])
	}
}

func TestCheckThenCommitSequence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addBucket(t, model.BucketHourly, 0, 2, time.Now().Add(time.Hour))

	for i := 0; i < 2; i++ {
		d, err := env.engine.Check(ctx, env.keyID)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied under limit", i)
		}
		env.engine.Commit(ctx, env.keyID)
	}

	d, err := env.engine.Check(ctx, env.keyID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatal("third request admitted past limit of 2")
	}
}

func TestCheckStoreFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.addBucket(t, model.BucketHourly, 100, 100, time.Now().Add(time.Hour))
	env.store.Close()

	d, err := env.engine.Check(context.Background(), env.keyID)
	if err == nil {
		t.Fatal("store failure during check must surface, not admit")
	}
	if d.Allowed {
		t.Error("decision admitted despite store failure")
	}
}
