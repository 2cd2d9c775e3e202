package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/store"
)

// Raw keys are "iot_" followed by at least 32 alphanumeric characters.
var keyPattern = regexp.MustCompile(`^iot_[a-zA-Z0-9]{32,}$`)

// HashKey returns the lowercase hex SHA-256 digest of a raw API key. This is
// the only form in which keys are persisted or looked up.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// KeyPrefix returns the display prefix stored alongside a key: the scheme
// plus the first 8 characters of the secret, elided.
func KeyPrefix(raw string) string {
	if len(raw) < 12 {
		return raw
	}
	return raw[:12] + "..."
}

// GenerateKey produces a fresh raw API key. 16 random bytes hex-encoded give
// a 32-character secret, the minimum the validator accepts.
func GenerateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "iot_" + hex.EncodeToString(buf), nil
}

// ExtractBearerKey pulls the raw key out of an Authorization header and
// checks its shape. Format defects are reported distinctly from lookup
// failures: a missing header and a malformed one each get their own error
// so callers can name the specific defect.
func ExtractBearerKey(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuth
	}
	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || !keyPattern.MatchString(raw) {
		return "", ErrMalformedAuth
	}
	return raw, nil
}

// ValidateAPIKey resolves an Authorization header to an active API key.
// It checks format, existence, the active flag, and expiry, in that order.
// A key expiring exactly now counts as expired. The last-used stamp is best
// effort and never fails the validation.
func (s *Service) ValidateAPIKey(ctx context.Context, authHeader string) (*model.APIKey, error) {
	raw, err := ExtractBearerKey(authHeader)
	if err != nil {
		return nil, err
	}

	key, err := s.store.GetAPIKeyByHash(ctx, HashKey(raw))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	if !key.IsActive {
		return nil, ErrKeyDisabled
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(time.Now()) {
		return nil, ErrKeyExpired
	}

	if err := s.store.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
		s.log.Warn("last used update failed", "api_key_id", key.ID, "error", err)
	}
	return key, nil
}

// CreateKey mints a new API key for an organization and provisions its
// rate-limit buckets from the organization's plan limits. The raw key is
// returned exactly once and never stored.
func (s *Service) CreateKey(ctx context.Context, orgID, name string, scopes []string, expiresAt *time.Time) (*model.APIKey, string, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve organization: %w", err)
	}

	raw, err := GenerateKey()
	if err != nil {
		return nil, "", err
	}
	key := &model.APIKey{
		OrganizationID: org.ID,
		Name:           name,
		KeyHash:        HashKey(raw),
		KeyPrefix:      KeyPrefix(raw),
		Scopes:         scopes,
		IsActive:       true,
		ExpiresAt:      expiresAt,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	if err := s.provisionBuckets(ctx, key.ID, org); err != nil {
		return nil, "", err
	}

	s.log.Info("api key created",
		"api_key_id", key.ID,
		"organization_id", org.ID,
		"key_prefix", key.KeyPrefix)
	return key, raw, nil
}

// RefreshKey rotates a credential: a new key is minted with the same name,
// scopes, and expiry, and the old one is deactivated.
func (s *Service) RefreshKey(ctx context.Context, keyID string) (*model.APIKey, string, error) {
	old, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, "", err
	}
	key, raw, err := s.CreateKey(ctx, old.OrganizationID, old.Name, old.Scopes, old.ExpiresAt)
	if err != nil {
		return nil, "", err
	}
	if err := s.store.DeactivateAPIKey(ctx, old.ID); err != nil {
		return nil, "", fmt.Errorf("deactivate old key: %w", err)
	}
	s.log.Info("api key refreshed", "old_api_key_id", old.ID, "api_key_id", key.ID)
	return key, raw, nil
}

// RevokeKey deactivates a credential.
func (s *Service) RevokeKey(ctx context.Context, keyID string) error {
	if err := s.store.DeactivateAPIKey(ctx, keyID); err != nil {
		return err
	}
	s.log.Info("api key revoked", "api_key_id", keyID)
	return nil
}

// provisionBuckets creates one bucket per plan limit the organization
// defines. Organizations with no limits get no buckets, which the rate
// limiter treats as unlimited.
func (s *Service) provisionBuckets(ctx context.Context, keyID string, org *model.Organization) error {
	now := time.Now().UTC()
	limits := []struct {
		bucketType string
		limit      *int64
	}{
		{model.BucketHourly, org.RequestsPerHour},
		{model.BucketDaily, org.RequestsPerDay},
		{model.BucketMonthly, org.RequestsPerMonth},
	}
	for _, l := range limits {
		if l.limit == nil {
			continue
		}
		b := &model.RateLimitBucket{
			APIKeyID:   keyID,
			BucketType: l.bucketType,
			Limit:      *l.limit,
			ResetTime:  model.NextResetTime(l.bucketType, now),
		}
		if err := s.store.CreateBucket(ctx, b); err != nil {
			return fmt.Errorf("provision %s bucket: %w", l.bucketType, err)
		}
	}
	return nil
}
