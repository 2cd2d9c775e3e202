package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResources adds the read-only resources MCP clients can pull into
// their context: the device fleet, configured endpoints, and active alarms.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	srv.AddResource(
		mcp.NewResource(
			"iot://devices",
			"Devices",
			mcp.WithResourceDescription("All devices in the organization with their current status."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleDevicesResource,
	)

	srv.AddResource(
		mcp.NewResource(
			"iot://endpoints",
			"Automation Endpoints",
			mcp.WithResourceDescription("Configured automation endpoints that can be triggered."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleEndpointsResource,
	)

	srv.AddResource(
		mcp.NewResource(
			"iot://alarms",
			"Active Alarms",
			mcp.WithResourceDescription("Currently active alarm events, newest first."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleAlarmsResource,
	)
}

func (s *MCPServer) handleDevicesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	devices, err := s.store.ListDevices(ctx, s.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return jsonResource("iot://devices", devices)
}

func (s *MCPServer) handleEndpointsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	endpoints, err := s.store.ListEndpoints(ctx, s.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return jsonResource("iot://endpoints", endpoints)
}

func (s *MCPServer) handleAlarmsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	alarms, err := s.store.ListActiveAlarms(ctx, s.orgID, 100)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarms: %w", err)
	}
	return jsonResource("iot://alarms", alarms)
}

func jsonResource(uri string, data interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
