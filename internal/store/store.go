package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/iotmesh/iotgate/internal/model"
)

// Store is the gateway's backend-of-record: organizations, memberships,
// API keys, rate-limit buckets, and the tenant-owned IoT resources the
// router forwards to. It runs on SQLite (dev/test) or Postgres.
type Store struct {
	db *sqlx.DB
}

// Open connects to the configured database and runs migrations.
// driver is "sqlite" or "postgres"; for sqlite an empty DSN means in-memory.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:?_journal_mode=WAL"
		}
	case "postgres":
		driver = "pgx"
	case "pgx":
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gateway database: %w", err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate gateway database: %w", err)
	}
	return s, nil
}

// OpenDir opens a file-backed SQLite store under dataDir, creating the
// directory if needed. Pass "" for in-memory.
func OpenDir(dataDir string) (*Store, error) {
	if dataDir == "" {
		return Open("sqlite", "")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dataDir, "iotgate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	return Open("sqlite", dsn)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func newID() string { return uuid.NewString() }

// ---------------------------------------------------------------------------
// Organizations, users, memberships
// ---------------------------------------------------------------------------

// CreateOrganization inserts a new organization. The ID and CreatedAt fields
// are populated if unset.
func (s *Store) CreateOrganization(ctx context.Context, org *model.Organization) error {
	if org.ID == "" {
		org.ID = newID()
	}
	org.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO organizations
		(id, name, is_active, requests_per_hour, requests_per_day, requests_per_month, created_at)
		VALUES (:id, :name, :is_active, :requests_per_hour, :requests_per_day, :requests_per_month, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, org); err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

// GetOrganization returns an organization by ID.
func (s *Store) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	err := s.db.GetContext(ctx, &org,
		s.db.Rebind("SELECT * FROM organizations WHERE id = ?"), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// SetOrganizationActive flips an organization's active flag.
func (s *Store) SetOrganizationActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE organizations SET is_active = ? WHERE id = ?"), active, id)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return requireRows(res)
}

// CreateUser inserts a new user account. PasswordHash must already be set.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO users (id, email, password_hash, name, is_active, created_at)
		VALUES (:id, :email, :password_hash, :name, :is_active, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns a user by their unique email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u,
		s.db.Rebind("SELECT * FROM users WHERE email = ?"), email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE users SET last_login_at = ? WHERE id = ?"), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	return requireRows(res)
}

// AddMember binds a user to an organization with a role. A user holds at
// most one membership; re-adding replaces it.
func (s *Store) AddMember(ctx context.Context, m *model.Member) error {
	m.CreatedAt = time.Now().UTC()

	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM organization_members WHERE user_id = ?"), m.UserID); err != nil {
		return fmt.Errorf("replace membership: %w", err)
	}
	const q = `INSERT INTO organization_members (organization_id, user_id, role, created_at)
		VALUES (:organization_id, :user_id, :role, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, m); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// GetMembershipByUser resolves the single membership row for a user.
func (s *Store) GetMembershipByUser(ctx context.Context, userID string) (*model.Member, error) {
	var m model.Member
	err := s.db.GetContext(ctx, &m,
		s.db.Rebind("SELECT * FROM organization_members WHERE user_id = ?"), userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// apiKeyRow is a flat struct mapping 1:1 to api_keys columns; scopes are
// stored as a JSON array.
type apiKeyRow struct {
	ID             string     `db:"id"`
	OrganizationID string     `db:"organization_id"`
	Name           string     `db:"name"`
	KeyHash        string     `db:"key_hash"`
	KeyPrefix      string     `db:"key_prefix"`
	ScopesJSON     string     `db:"scopes"`
	IsActive       bool       `db:"is_active"`
	ExpiresAt      *time.Time `db:"expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
	LastUsed       *time.Time `db:"last_used"`
}

func (r apiKeyRow) toModel() (model.APIKey, error) {
	var scopes []string
	if r.ScopesJSON != "" {
		if err := json.Unmarshal([]byte(r.ScopesJSON), &scopes); err != nil {
			return model.APIKey{}, fmt.Errorf("decode key scopes: %w", err)
		}
	}
	return model.APIKey{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		KeyHash:        r.KeyHash,
		KeyPrefix:      r.KeyPrefix,
		Scopes:         scopes,
		IsActive:       r.IsActive,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
		LastUsed:       r.LastUsed,
	}, nil
}

// CreateAPIKey inserts a new API key record. KeyHash must already be set.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		key.ID = newID()
	}
	key.CreatedAt = time.Now().UTC()

	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("encode key scopes: %w", err)
	}
	row := apiKeyRow{
		ID:             key.ID,
		OrganizationID: key.OrganizationID,
		Name:           key.Name,
		KeyHash:        key.KeyHash,
		KeyPrefix:      key.KeyPrefix,
		ScopesJSON:     string(scopes),
		IsActive:       key.IsActive,
		ExpiresAt:      key.ExpiresAt,
		CreatedAt:      key.CreatedAt,
	}
	const q = `INSERT INTO api_keys
		(id, organization_id, name, key_hash, key_prefix, scopes, is_active, expires_at, created_at)
		VALUES (:id, :organization_id, :name, :key_hash, :key_prefix, :scopes, :is_active, :expires_at, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var row apiKeyRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind("SELECT * FROM api_keys WHERE key_hash = ?"), hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var row apiKeyRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind("SELECT * FROM api_keys WHERE id = ?"), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns all API keys belonging to an organization.
func (s *Store) ListAPIKeys(ctx context.Context, orgID string) ([]model.APIKey, error) {
	var rows []apiKeyRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT * FROM api_keys WHERE organization_id = ? ORDER BY created_at DESC"), orgID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// DeactivateAPIKey marks an API key as inactive. Keys are never physically
// deleted; a refresh creates a new key and deactivates the old one.
func (s *Store) DeactivateAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE api_keys SET is_active = ? WHERE id = ?"), false, id)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return requireRows(res)
}

// UpdateAPIKeyLastUsed sets the last_used timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE api_keys SET last_used = ? WHERE id = ?"), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return requireRows(res)
}

// ---------------------------------------------------------------------------
// Rate limit buckets
// ---------------------------------------------------------------------------

// CreateBucket inserts a rate-limit bucket for an API key.
func (s *Store) CreateBucket(ctx context.Context, b *model.RateLimitBucket) error {
	if b.ID == "" {
		b.ID = newID()
	}
	b.UpdatedAt = time.Now().UTC()

	const q = `INSERT INTO rate_limit_buckets
		(id, api_key_id, bucket_type, current_count, limit_value, reset_time, updated_at)
		VALUES (:id, :api_key_id, :bucket_type, :current_count, :limit_value, :reset_time, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, b); err != nil {
		return fmt.Errorf("insert rate limit bucket: %w", err)
	}
	return nil
}

// ListBuckets returns all rate-limit buckets for an API key.
func (s *Store) ListBuckets(ctx context.Context, apiKeyID string) ([]model.RateLimitBucket, error) {
	var buckets []model.RateLimitBucket
	err := s.db.SelectContext(ctx, &buckets,
		s.db.Rebind("SELECT * FROM rate_limit_buckets WHERE api_key_id = ? ORDER BY bucket_type"), apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("list rate limit buckets: %w", err)
	}
	return buckets, nil
}

// ResetBucket zeroes an expired bucket's counter and advances its window.
func (s *Store) ResetBucket(ctx context.Context, id string, resetTime time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE rate_limit_buckets SET current_count = 0, reset_time = ?, updated_at = ? WHERE id = ?"),
		resetTime.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reset rate limit bucket: %w", err)
	}
	return requireRows(res)
}

// IncrementLiveBuckets adds one to every bucket for the key whose window has
// not yet expired. The increment happens in SQL so concurrent commits never
// lose updates.
func (s *Store) IncrementLiveBuckets(ctx context.Context, apiKeyID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE rate_limit_buckets SET current_count = current_count + 1, updated_at = ? WHERE api_key_id = ? AND reset_time > ?"),
		now.UTC(), apiKeyID, now.UTC())
	if err != nil {
		return fmt.Errorf("increment rate limit buckets: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Devices and readings
// ---------------------------------------------------------------------------

// CreateDevice inserts a device owned by an organization.
func (s *Store) CreateDevice(ctx context.Context, d *model.Device) error {
	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO devices
		(id, organization_id, name, type, status, description, last_active_at, created_at)
		VALUES (:id, :organization_id, :name, :type, :status, :description, :last_active_at, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, d); err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetDevice returns a device by ID, scoped to the owning organization.
func (s *Store) GetDevice(ctx context.Context, id, orgID string) (*model.Device, error) {
	var d model.Device
	err := s.db.GetContext(ctx, &d,
		s.db.Rebind("SELECT * FROM devices WHERE id = ? AND organization_id = ?"), id, orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &d, nil
}

// ListDevices returns all devices owned by an organization.
func (s *Store) ListDevices(ctx context.Context, orgID string) ([]model.Device, error) {
	var devices []model.Device
	err := s.db.SelectContext(ctx, &devices,
		s.db.Rebind("SELECT * FROM devices WHERE organization_id = ? ORDER BY name"), orgID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// UpdateDevice updates a device's mutable fields, scoped to the organization.
func (s *Store) UpdateDevice(ctx context.Context, d *model.Device) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE devices SET name = ?, type = ?, status = ?, description = ? WHERE id = ? AND organization_id = ?"),
		d.Name, d.Type, d.Status, d.Description, d.ID, d.OrganizationID)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	return requireRows(res)
}

// DeleteDevice removes a device, scoped to the organization.
func (s *Store) DeleteDevice(ctx context.Context, id, orgID string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM devices WHERE id = ? AND organization_id = ?"), id, orgID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return requireRows(res)
}

// CountDevices returns the number of devices owned by an organization.
func (s *Store) CountDevices(ctx context.Context, orgID string) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		s.db.Rebind("SELECT COUNT(*) FROM devices WHERE organization_id = ?"), orgID)
	if err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return n, nil
}

// InsertReading stores a sensor sample for a device.
func (s *Store) InsertReading(ctx context.Context, r *model.Reading) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	const q = `INSERT INTO device_readings
		(id, device_id, organization_id, reading_type, value, unit, timestamp)
		VALUES (:id, :device_id, :organization_id, :reading_type, :value, :unit, :timestamp)`
	if _, err := s.db.NamedExecContext(ctx, q, r); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// ListReadings returns the most recent readings for a device, newest first,
// optionally filtered by reading type.
func (s *Store) ListReadings(ctx context.Context, deviceID, orgID, readingType string, limit int) ([]model.Reading, error) {
	q := "SELECT * FROM device_readings WHERE device_id = ? AND organization_id = ?"
	args := []interface{}{deviceID, orgID}
	if readingType != "" {
		q += " AND reading_type = ?"
		args = append(args, readingType)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	var readings []model.Reading
	if err := s.db.SelectContext(ctx, &readings, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	return readings, nil
}

// ---------------------------------------------------------------------------
// Endpoints, products, data buckets, alarms
// ---------------------------------------------------------------------------

// CreateEndpoint inserts an automation endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, e *model.Endpoint) error {
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO endpoints (id, organization_id, name, type, target_url, is_active, created_at)
		VALUES (:id, :organization_id, :name, :type, :target_url, :is_active, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, e); err != nil {
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

// GetEndpoint returns an endpoint by ID, scoped to the organization.
func (s *Store) GetEndpoint(ctx context.Context, id, orgID string) (*model.Endpoint, error) {
	var e model.Endpoint
	err := s.db.GetContext(ctx, &e,
		s.db.Rebind("SELECT * FROM endpoints WHERE id = ? AND organization_id = ?"), id, orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return &e, nil
}

// ListEndpoints returns all endpoints owned by an organization.
func (s *Store) ListEndpoints(ctx context.Context, orgID string) ([]model.Endpoint, error) {
	var endpoints []model.Endpoint
	err := s.db.SelectContext(ctx, &endpoints,
		s.db.Rebind("SELECT * FROM endpoints WHERE organization_id = ? ORDER BY name"), orgID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	return endpoints, nil
}

// CreateProduct inserts a product template.
func (s *Store) CreateProduct(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO products (id, organization_id, name, description, category, created_at)
		VALUES (:id, :organization_id, :name, :description, :category, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, p); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// GetProduct returns a product by ID, scoped to the organization.
func (s *Store) GetProduct(ctx context.Context, id, orgID string) (*model.Product, error) {
	var p model.Product
	err := s.db.GetContext(ctx, &p,
		s.db.Rebind("SELECT * FROM products WHERE id = ? AND organization_id = ?"), id, orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// ListProducts returns all product templates owned by an organization.
func (s *Store) ListProducts(ctx context.Context, orgID string) ([]model.Product, error) {
	var products []model.Product
	err := s.db.SelectContext(ctx, &products,
		s.db.Rebind("SELECT * FROM products WHERE organization_id = ? ORDER BY name"), orgID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// DeleteProduct removes a product, scoped to the organization.
func (s *Store) DeleteProduct(ctx context.Context, id, orgID string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM products WHERE id = ? AND organization_id = ?"), id, orgID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return requireRows(res)
}

// CreateDataBucket inserts a data bucket.
func (s *Store) CreateDataBucket(ctx context.Context, b *model.DataBucket) error {
	if b.ID == "" {
		b.ID = newID()
	}
	b.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO data_buckets (id, organization_id, name, device_id, description, created_at)
		VALUES (:id, :organization_id, :name, :device_id, :description, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, b); err != nil {
		return fmt.Errorf("insert data bucket: %w", err)
	}
	return nil
}

// ListDataBuckets returns all data buckets owned by an organization.
func (s *Store) ListDataBuckets(ctx context.Context, orgID string) ([]model.DataBucket, error) {
	var buckets []model.DataBucket
	err := s.db.SelectContext(ctx, &buckets,
		s.db.Rebind("SELECT * FROM data_buckets WHERE organization_id = ? ORDER BY name"), orgID)
	if err != nil {
		return nil, fmt.Errorf("list data buckets: %w", err)
	}
	return buckets, nil
}

// ListActiveAlarms returns the most recent active alarm events for an
// organization, newest first.
func (s *Store) ListActiveAlarms(ctx context.Context, orgID string, limit int) ([]model.AlarmEvent, error) {
	var alarms []model.AlarmEvent
	err := s.db.SelectContext(ctx, &alarms, s.db.Rebind(
		"SELECT * FROM alarm_events WHERE organization_id = ? AND status = 'active' ORDER BY triggered_at DESC LIMIT ?"),
		orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active alarms: %w", err)
	}
	return alarms, nil
}

// InsertAlarmEvent stores an alarm event.
func (s *Store) InsertAlarmEvent(ctx context.Context, a *model.AlarmEvent) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = time.Now().UTC()
	}

	const q = `INSERT INTO alarm_events (id, organization_id, status, severity, message, triggered_at)
		VALUES (:id, :organization_id, :status, :severity, :message, :triggered_at)`
	if _, err := s.db.NamedExecContext(ctx, q, a); err != nil {
		return fmt.Errorf("insert alarm event: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Request audit log
// ---------------------------------------------------------------------------

// InsertRequestLog stores an audit record of a gateway decision.
func (s *Store) InsertRequestLog(ctx context.Context, l *model.RequestLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	l.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_requests_log
		(id, api_key_id, organization_id, endpoint, method, response_status, processing_time_ms, ip_address, user_agent, created_at)
		VALUES (:id, :api_key_id, :organization_id, :endpoint, :method, :response_status, :processing_time_ms, :ip_address, :user_agent, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, l); err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// CountRequestLogs reports how many audit rows exist for an API key.
func (s *Store) CountRequestLogs(ctx context.Context, apiKeyID string) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		s.db.Rebind("SELECT COUNT(*) FROM api_requests_log WHERE api_key_id = ?"), apiKeyID)
	if err != nil {
		return 0, fmt.Errorf("count request logs: %w", err)
	}
	return n, nil
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
