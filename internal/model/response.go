package model

import "time"

// AuthResponse is the uniform envelope returned by the gateway auth
// endpoints (key validator, rate-limit checker, orchestrator).
type AuthResponse struct {
	Success          bool     `json:"success"`
	APIKeyID         string   `json:"api_key_id,omitempty"`
	OrganizationID   string   `json:"organization_id,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
	RateLimitAllowed *bool    `json:"rate_limit_allowed,omitempty"`
	ResetTime        string   `json:"reset_time,omitempty"`
	Error            string   `json:"error,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Timestamp        string   `json:"timestamp"`
}

// RequestLog is a best-effort audit record of one gateway decision.
type RequestLog struct {
	ID               string    `json:"id" db:"id"`
	APIKeyID         string    `json:"api_key_id" db:"api_key_id"`
	OrganizationID   string    `json:"organization_id" db:"organization_id"`
	Endpoint         string    `json:"endpoint" db:"endpoint"`
	Method           string    `json:"method" db:"method"`
	ResponseStatus   int       `json:"response_status" db:"response_status"`
	ProcessingTimeMs int64     `json:"processing_time_ms" db:"processing_time_ms"`
	IPAddress        string    `json:"ip_address" db:"ip_address"`
	UserAgent        string    `json:"user_agent" db:"user_agent"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
