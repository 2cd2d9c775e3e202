package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/iotmesh/iotgate/internal/model"
	"github.com/iotmesh/iotgate/internal/store"
)

// Credential and token failures the handlers map to HTTP statuses.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingAuth        = errors.New("missing authorization header")
	ErrMalformedAuth      = errors.New("invalid authorization format")
	ErrInvalidKey         = errors.New("invalid api key")
	ErrKeyDisabled        = errors.New("api key disabled")
	ErrKeyExpired         = errors.New("api key expired")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// Service bundles authentication and credential management on top of the
// store. All dependencies are injected; nothing here is a singleton.
type Service struct {
	store     *store.Store
	log       *slog.Logger
	jwtSecret []byte
	jwtTTL    time.Duration
}

// New creates an auth service. jwtTTL <= 0 defaults to 24 hours.
func New(st *store.Store, log *slog.Logger, jwtSecret []byte, jwtTTL time.Duration) *Service {
	if jwtTTL <= 0 {
		jwtTTL = 24 * time.Hour
	}
	return &Service{store: st, log: log, jwtSecret: jwtSecret, jwtTTL: jwtTTL}
}

// Store exposes the backing store for handlers composed around the service.
func (s *Service) Store() *store.Store { return s.store }

// Login verifies an email/password pair and returns the user with a signed
// session token. The last-login update is best effort.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("look up user: %w", err)
	}
	if !u.IsActive {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.IssueToken(u)
	if err != nil {
		return nil, "", err
	}

	if err := s.store.UpdateUserLastLogin(ctx, u.ID); err != nil {
		s.log.Warn("last login update failed", "user_id", u.ID, "error", err)
	}
	return u, token, nil
}

// HashPassword returns a bcrypt hash of the password at default cost.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// IssueToken signs an HS256 session token for the user.
func (s *Service) IssueToken(u *model.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.jwtTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a session token, returning the user ID.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
