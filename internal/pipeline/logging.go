package pipeline

import "log/slog"

// Logging records the arrival of a request. It runs early so every request
// is visible even when a later stage short-circuits.
func Logging(log *slog.Logger) Middleware {
	return func(ctx *Context) (*Response, error) {
		log.Info("gateway request",
			"request_id", ctx.RequestID,
			"method", ctx.Request.Method,
			"path", ctx.Request.URL.Path,
			"remote", ctx.Request.RemoteAddr)
		return nil, nil
	}
}
