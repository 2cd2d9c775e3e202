package pipeline

import (
	"net/http"
	"strings"
)

// Headers browsers may send to the auth endpoints.
var defaultAllowedHeaders = []string{
	"authorization", "x-client-info", "apikey", "content-type", "x-api-key-id",
}

// CORS stamps cross-origin headers on every response and answers preflight
// requests directly, before any credential check runs.
func CORS(extraHeaders ...string) Middleware {
	allowed := strings.Join(append(defaultAllowedHeaders, extraHeaders...), ", ")
	return func(ctx *Context) (*Response, error) {
		ctx.Header.Set("Access-Control-Allow-Origin", "*")
		ctx.Header.Set("Access-Control-Allow-Headers", allowed)
		ctx.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if ctx.Request.Method == http.MethodOptions {
			return NewResponse(http.StatusNoContent, nil), nil
		}
		return nil, nil
	}
}
