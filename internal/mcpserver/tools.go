package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/iotmesh/iotgate/internal/backend"
	"github.com/iotmesh/iotgate/internal/store"
)

const maxReadingLimit = 1000

// registerTools registers the gateway MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	srv.AddTool(
		mcp.NewTool("get_device_status",
			mcp.WithDescription(
				"Get the current status of an IoT device: online/offline state, "+
					"type, and when it was last active. Use list resources or the "+
					"iot://devices resource to discover device IDs first.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("device_id",
				mcp.Required(),
				mcp.Description("Identifier of the device to inspect"),
			),
		),
		s.handleDeviceStatus,
	)

	srv.AddTool(
		mcp.NewTool("get_device_readings",
			mcp.WithDescription(
				"Get recent sensor readings for a device, newest first. "+
					"Optionally filter by reading type (e.g. temperature, humidity) "+
					"and cap the number of samples returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("device_id",
				mcp.Required(),
				mcp.Description("Identifier of the device"),
			),
			mcp.WithString("type",
				mcp.Description("Reading type filter (omit for all types)"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum readings to return (default 20, max 1000)"),
			),
		),
		s.handleDeviceReadings,
	)

	srv.AddTool(
		mcp.NewTool("trigger_endpoint",
			mcp.WithDescription(
				"Trigger a configured automation endpoint (webhook, notification, "+
					"or device command) with an optional JSON payload.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("endpoint_id",
				mcp.Required(),
				mcp.Description("Identifier of the endpoint to trigger"),
			),
			mcp.WithObject("payload",
				mcp.Description("Payload forwarded to the endpoint"),
			),
		),
		s.handleTriggerEndpoint,
	)
}

func (s *MCPServer) handleDeviceStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deviceID, err := request.RequireString("device_id")
	if err != nil {
		return toolError("missing required parameter %q", "device_id")
	}

	d, err := s.store.GetDevice(ctx, deviceID, s.orgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return toolError("device %q not found", deviceID)
		}
		return nil, fmt.Errorf("load device: %w", err)
	}

	return successJSON(map[string]interface{}{
		"device_id":   d.ID,
		"name":        d.Name,
		"type":        d.Type,
		"status":      d.Status,
		"last_active": d.LastActiveAt,
	})
}

func (s *MCPServer) handleDeviceReadings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deviceID, err := request.RequireString("device_id")
	if err != nil {
		return toolError("missing required parameter %q", "device_id")
	}
	readingType := request.GetString("type", "")
	limit := clamp(request.GetInt("limit", 20), 1, maxReadingLimit)

	if _, err := s.store.GetDevice(ctx, deviceID, s.orgID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return toolError("device %q not found", deviceID)
		}
		return nil, fmt.Errorf("load device: %w", err)
	}

	readings, err := s.store.ListReadings(ctx, deviceID, s.orgID, readingType, limit)
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	return successJSON(map[string]interface{}{
		"device_id": deviceID,
		"readings":  readings,
		"count":     len(readings),
	})
}

func (s *MCPServer) handleTriggerEndpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	endpointID, err := request.RequireString("endpoint_id")
	if err != nil {
		return toolError("missing required parameter %q", "endpoint_id")
	}

	var payload map[string]interface{}
	if args := request.GetArguments(); args != nil {
		payload, _ = args["payload"].(map[string]interface{})
	}

	result, err := s.registry.Invoke(ctx, "endpoints", &backend.Request{
		OrganizationID: s.orgID,
		UserRole:       "admin",
		Method:         http.MethodPost,
		ResourceID:     endpointID,
		Query:          url.Values{},
		Body:           map[string]any{"payload": payload},
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return toolError("endpoint %q not found", endpointID)
		}
		if errors.Is(err, backend.ErrInvalidInput) {
			return toolError("%v", err)
		}
		return nil, fmt.Errorf("trigger endpoint: %w", err)
	}
	return successJSON(result)
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
