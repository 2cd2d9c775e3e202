package model

import "time"

// Device is a connected IoT unit owned by one organization.
type Device struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	Name           string     `json:"name" db:"name"`
	Type           string     `json:"type" db:"type"`
	Status         string     `json:"status" db:"status"`
	Description    string     `json:"description" db:"description"`
	LastActiveAt   *time.Time `json:"last_active,omitempty" db:"last_active_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Reading is a single sensor sample reported by a device.
type Reading struct {
	ID             string    `json:"id" db:"id"`
	DeviceID       string    `json:"device_id" db:"device_id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	ReadingType    string    `json:"reading_type" db:"reading_type"`
	Value          float64   `json:"value" db:"value"`
	Unit           string    `json:"unit" db:"unit"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

// Endpoint is a configured automation target that can be triggered through
// the gateway (webhook, notification, device command).
type Endpoint struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Type           string    `json:"type" db:"type"`
	TargetURL      string    `json:"target_url" db:"target_url"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Product is a device template describing a class of devices.
type Product struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description" db:"description"`
	Category       string    `json:"category" db:"category"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// DataBucket is a named collection of readings used for retention and
// reporting.
type DataBucket struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	DeviceID       *string   `json:"device_id,omitempty" db:"device_id"`
	Description    string    `json:"description" db:"description"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// AlarmEvent is a triggered alarm, surfaced through the MCP context view.
type AlarmEvent struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Status         string    `json:"status" db:"status"`
	Severity       string    `json:"severity" db:"severity"`
	Message        string    `json:"message" db:"message"`
	TriggeredAt    time.Time `json:"triggered_at" db:"triggered_at"`
}
