package model

import "time"

// Organization is an isolated customer account. Every gateway resource is
// scoped to exactly one organization.
type Organization struct {
	ID               string    `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	RequestsPerHour  *int64    `json:"requests_per_hour,omitempty" db:"requests_per_hour"`
	RequestsPerDay   *int64    `json:"requests_per_day,omitempty" db:"requests_per_day"`
	RequestsPerMonth *int64    `json:"requests_per_month,omitempty" db:"requests_per_month"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Membership roles, weakest first.
const (
	RoleViewer = "viewer"
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

var roleRank = map[string]int{
	RoleViewer: 0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// RoleAtLeast reports whether role meets or exceeds required in the
// viewer < member < admin < owner hierarchy. Unknown roles rank below viewer.
func RoleAtLeast(role, required string) bool {
	r, ok := roleRank[role]
	if !ok {
		return false
	}
	return r >= roleRank[required]
}

// Member binds a user to an organization with a role. The gateway assumes a
// single membership row per user when resolving tenancy.
type Member struct {
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Role           string    `json:"role" db:"role"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// User is a dashboard account that authenticates with email and password.
// Passwords are stored as bcrypt hashes.
type User struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Name         string     `json:"name" db:"name"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
