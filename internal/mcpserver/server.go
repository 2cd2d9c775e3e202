// Package mcpserver exposes the gateway's tools and resources to MCP
// clients over stdio or streamable HTTP. A server instance is pinned to one
// organization: stdio transports carry no per-request credentials, so the
// tenant is fixed at launch.
package mcpserver

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/iotmesh/iotgate/internal/backend"
	"github.com/iotmesh/iotgate/internal/store"
)

// MCPServer wraps the mcp-go server with the gateway's tool and resource
// registrations, all scoped to a single organization.
type MCPServer struct {
	store    *store.Store
	registry *backend.Registry
	orgID    string
	logger   *slog.Logger
	server   *server.MCPServer
}

// New creates an MCPServer pre-loaded with the device, readings, and
// endpoint tools. The returned server is ready to serve over stdio or HTTP.
func New(st *store.Store, registry *backend.Registry, orgID string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:    st,
		registry: registry,
		orgID:    orgID,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"IoT Gateway",
		"1.0.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, the integration path for
// MCP clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode", "organization_id", s.orgID)
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on the
// given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr, "organization_id", s.orgID)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(false)}
}

func boolPtr(b bool) *bool {
	return &b
}
