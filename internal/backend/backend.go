// Package backend hosts the resource functions the gateway routes to.
// Functions are invoked in process through a registry rather than over the
// network, but keep the forwarded-request shape: every call carries the
// tenant context the router injected.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// ErrUnknownFunction means no backend is registered under that name.
	ErrUnknownFunction = errors.New("unknown backend function")
	// ErrInvalidInput tags client mistakes in the request body or query.
	ErrInvalidInput = errors.New("invalid input")
)

// Request is the forwarded call. The router fills the tenant fields from the
// authenticated session; backends trust them.
type Request struct {
	OrganizationID string
	UserID         string
	UserRole       string
	Method         string
	ResourceID     string
	Query          url.Values
	Body           map[string]any
	Timestamp      time.Time
}

// Func handles one forwarded request and returns a JSON-encodable result.
type Func func(ctx context.Context, req *Request) (any, error)

// Registry maps resource names to backend functions.
type Registry struct {
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds a function under a resource name.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Names returns the registered resource names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	return names
}

// Invoke dispatches a forwarded request to the named backend.
func (r *Registry) Invoke(ctx context.Context, name string, req *Request) (any, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn(ctx, req)
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}

func requireString(body map[string]any, key string) (string, error) {
	s := stringField(body, key)
	if s == "" {
		return "", fmt.Errorf("%w: missing required field %q", ErrInvalidInput, key)
	}
	return s, nil
}
