package model

import "time"

// APIKey is a tenant-owned credential used to authenticate gateway requests.
// The raw key is never stored; only a SHA-256 hash and a short display
// prefix are persisted.
type APIKey struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	Name           string     `json:"name" db:"name"`
	KeyHash        string     `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyPrefix      string     `json:"key_prefix" db:"key_prefix"`
	Scopes         []string   `json:"scopes"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	LastUsed       *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// Bucket window granularities. At most one bucket exists per key per window.
const (
	BucketHourly  = "hourly"
	BucketDaily   = "daily"
	BucketMonthly = "monthly"
)

// RateLimitBucket tracks quota usage for one API key over one time window.
// A bucket whose ResetTime has passed is logically expired and must be
// reset before it is evaluated or incremented.
type RateLimitBucket struct {
	ID         string    `json:"id" db:"id"`
	APIKeyID   string    `json:"api_key_id" db:"api_key_id"`
	BucketType string    `json:"bucket_type" db:"bucket_type"`
	Count      int64     `json:"current_count" db:"current_count"`
	Limit      int64     `json:"limit_value" db:"limit_value"`
	ResetTime  time.Time `json:"reset_time" db:"reset_time"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// NextResetTime returns the end of the window that starts at now for the
// given bucket type: one hour out, one day out, or the first instant of the
// next calendar month.
func NextResetTime(bucketType string, now time.Time) time.Time {
	switch bucketType {
	case BucketDaily:
		return now.Add(24 * time.Hour)
	case BucketMonthly:
		y, m, _ := now.Date()
		return time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
	default:
		return now.Add(time.Hour)
	}
}
