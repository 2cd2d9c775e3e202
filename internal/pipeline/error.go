package pipeline

import (
	"errors"
	"net/http"
	"time"
)

// Kind classifies a pipeline failure. Statuses are derived from the kind,
// never by inspecting message text.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindRateLimited
)

// Error is a failure tagged with its kind. Message is the exact text the
// client sees.
type Error struct {
	Kind    Kind
	Message string

	// ResetTime is set on rate-limit denials so the renderer can emit the
	// X-RateLimit-Reset header.
	ResetTime time.Time
}

func (e *Error) Error() string { return e.Message }

// BadRequest tags a client error (malformed body, wrong content type).
func BadRequest(msg string) *Error { return &Error{Kind: KindBadRequest, Message: msg} }

// Unauthorized tags a credential failure.
func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }

// Forbidden tags an authorization failure.
func Forbidden(msg string) *Error { return &Error{Kind: KindForbidden, Message: msg} }

// RateLimited tags a quota denial with the window's reopen time.
func RateLimited(msg string, resetTime time.Time) *Error {
	return &Error{Kind: KindRateLimited, Message: msg, ResetTime: resetTime}
}

// Internal tags a server-side failure.
func Internal(msg string) *Error { return &Error{Kind: KindInternal, Message: msg} }

// StatusFor maps an error to its HTTP status. Untagged errors are internal.
func StatusFor(err error) int {
	var pe *Error
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}
	switch pe.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RenderError is the terminal stage for failed requests: a uniform JSON
// envelope with the status derived from the error's kind. Untagged errors
// never leak their text to the client.
func RenderError(ctx *Context, err error) *Response {
	status := StatusFor(err)
	message := "Internal processing error"
	var pe *Error
	if errors.As(err, &pe) {
		message = pe.Message
	}

	body := map[string]any{
		"success":            false,
		"error":              message,
		"processing_time_ms": ctx.Elapsed().Milliseconds(),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	}
	resp := NewResponse(status, body)
	if pe != nil && pe.Kind == KindRateLimited {
		body["rate_limit_allowed"] = false
		if !pe.ResetTime.IsZero() {
			body["reset_time"] = pe.ResetTime.UTC().Format(time.RFC3339)
			resp.Header.Set("X-RateLimit-Reset", pe.ResetTime.UTC().Format(time.RFC3339))
		}
	}
	return resp
}
