// Package pipeline implements the gateway's composable request pipeline.
//
// A pipeline is an ordered list of stages sharing one mutable context. Each
// stage may pass the request along, short-circuit with a response, or fail
// with an error that a terminal rendering stage turns into a JSON reply.
package pipeline

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Context threads per-request state through the stages. Values written by
// one stage are visible to every later stage.
type Context struct {
	Request   *http.Request
	RequestID string
	StartTime time.Time

	// Header collects response headers that apply however the chain ends,
	// success or failure. CORS headers live here.
	Header http.Header

	values map[string]any
}

// NewContext wraps an incoming request. The request ID is a UUIDv7 so IDs
// sort by arrival time in logs.
func NewContext(r *http.Request) *Context {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Context{
		Request:   r,
		RequestID: id.String(),
		StartTime: time.Now(),
		Header:    http.Header{},
		values:    make(map[string]any),
	}
}

// Set stores a value for later stages.
func (c *Context) Set(key string, value any) {
	c.values[key] = value
}

// Get returns a value stored by an earlier stage.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// GetString returns a string value stored by an earlier stage, or "".
func (c *Context) GetString(key string) string {
	s, _ := c.values[key].(string)
	return s
}

// Elapsed returns the processing time since the context was created.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}

// Response is a fully-formed reply. A stage returning one ends the chain.
type Response struct {
	Status int
	Header http.Header
	Body   any
}

// NewResponse builds a JSON response with the given status and body.
func NewResponse(status int, body any) *Response {
	return &Response{Status: status, Header: http.Header{}, Body: body}
}

// Middleware is one stage of the pipeline. Returning a non-nil Response
// short-circuits the chain; returning an error aborts it.
type Middleware func(ctx *Context) (*Response, error)

// Compose chains stages into one. Stages run in order until one responds or
// fails. A chain that falls off the end returns (nil, nil) and the handler
// treats it as an internal error: every route must terminate explicitly.
func Compose(stages ...Middleware) Middleware {
	return func(ctx *Context) (*Response, error) {
		for _, stage := range stages {
			resp, err := stage(ctx)
			if err != nil {
				return nil, err
			}
			if resp != nil {
				return resp, nil
			}
		}
		return nil, nil
	}
}

// Handler adapts a pipeline to net/http. Panics and errors are rendered by
// the error stage; a chain that terminates without a response synthesizes an
// internal error rather than hanging the client.
func Handler(log *slog.Logger, stages ...Middleware) http.HandlerFunc {
	chain := Compose(stages...)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := NewContext(r)

		resp := func() (resp *Response) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("pipeline panic",
						"request_id", ctx.RequestID,
						"path", r.URL.Path,
						"panic", rec)
					resp = RenderError(ctx, Internal("Internal processing error"))
				}
			}()
			out, err := chain(ctx)
			if err != nil {
				return RenderError(ctx, err)
			}
			if out == nil {
				log.Error("pipeline produced no response",
					"request_id", ctx.RequestID,
					"path", r.URL.Path)
				return RenderError(ctx, Internal("Internal processing error"))
			}
			return out
		}()

		writeResponse(w, ctx, resp)
	}
}

func writeResponse(w http.ResponseWriter, ctx *Context, resp *Response) {
	for k, vals := range ctx.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Request-Id", ctx.RequestID)
	if resp.Body == nil {
		w.WriteHeader(resp.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_ = json.NewEncoder(w).Encode(resp.Body)
}
