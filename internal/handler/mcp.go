package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/iotmesh/iotgate/internal/backend"
	"github.com/iotmesh/iotgate/internal/server/middleware"
	"github.com/iotmesh/iotgate/internal/store"
)

// MCPHandler exposes the gateway's Model Context Protocol surface over
// HTTP: tool discovery and execution, resource reads, prompt templates, and
// an organization context snapshot. Everything is scoped to the caller's
// organization; tools never see another tenant's devices.
type MCPHandler struct {
	store    *store.Store
	registry *backend.Registry
	log      *slog.Logger
}

func NewMCPHandler(st *store.Store, registry *backend.Registry, log *slog.Logger) *MCPHandler {
	return &MCPHandler{store: st, registry: registry, log: log}
}

// ToolDescriptor describes one callable tool to MCP clients.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func toolDescriptors() []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        "get_device_status",
			Description: "Get the current status of an IoT device",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"device_id": map[string]any{"type": "string", "description": "Device identifier"},
				},
				"required": []string{"device_id"},
			},
		},
		{
			Name:        "get_device_readings",
			Description: "Get recent sensor readings for a device",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"device_id": map[string]any{"type": "string", "description": "Device identifier"},
					"type":      map[string]any{"type": "string", "description": "Filter by reading type"},
					"limit":     map[string]any{"type": "number", "description": "Maximum readings to return"},
				},
				"required": []string{"device_id"},
			},
		},
		{
			Name:        "trigger_endpoint",
			Description: "Trigger a configured automation endpoint",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"endpoint_id": map[string]any{"type": "string", "description": "Endpoint identifier"},
					"payload":     map[string]any{"type": "object", "description": "Payload forwarded to the endpoint"},
				},
				"required": []string{"endpoint_id"},
			},
		},
	}
}

type resourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mime_type"`
}

func resourceDescriptors() []resourceDescriptor {
	return []resourceDescriptor{
		{URI: "iot://devices", Name: "Devices", Description: "All devices in the organization", MimeType: "application/json"},
		{URI: "iot://endpoints", Name: "Endpoints", Description: "Configured automation endpoints", MimeType: "application/json"},
		{URI: "iot://alarms", Name: "Active alarms", Description: "Currently active alarm events", MimeType: "application/json"},
	}
}

type promptDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Arguments   []string `json:"arguments"`
}

func promptDescriptors() []promptDescriptor {
	return []promptDescriptor{
		{
			Name:        "device_health_summary",
			Description: "Summarize the health of a device from its status and recent readings",
			Arguments:   []string{"device_id"},
		},
		{
			Name:        "fleet_overview",
			Description: "Summarize the state of the whole device fleet",
			Arguments:   nil,
		},
	}
}

// Capabilities answers discovery.
// GET /api/mcp/capabilities
func (h *MCPHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"protocol":  "mcp",
		"tools":     toolDescriptors(),
		"resources": resourceDescriptors(),
		"prompts":   promptDescriptors(),
	})
}

// Tools lists the callable tools.
// GET /api/mcp/tools
func (h *MCPHandler) Tools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": toolDescriptors()})
}

// ExecuteTool runs one tool call.
// POST /api/mcp/tools/execute
func (h *MCPHandler) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req struct {
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	result, err := h.executeTool(r, session, req.Tool, req.Arguments)
	if err != nil {
		h.renderToolError(w, req.Tool, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tool":   req.Tool,
		"result": result,
	})
}

var errUnknownTool = errors.New("unknown tool")

func (h *MCPHandler) executeTool(r *http.Request, session *middleware.Session, tool string, args map[string]any) (any, error) {
	ctx := r.Context()
	orgID := session.OrganizationID

	switch tool {
	case "get_device_status":
		deviceID, _ := args["device_id"].(string)
		if deviceID == "" {
			return nil, errors.New("device_id is required")
		}
		d, err := h.store.GetDevice(ctx, deviceID, orgID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"device_id":   d.ID,
			"name":        d.Name,
			"status":      d.Status,
			"type":        d.Type,
			"last_active": d.LastActiveAt,
		}, nil

	case "get_device_readings":
		deviceID, _ := args["device_id"].(string)
		if deviceID == "" {
			return nil, errors.New("device_id is required")
		}
		readingType, _ := args["type"].(string)
		limit := 20
		if n, ok := args["limit"].(float64); ok && n > 0 {
			limit = int(n)
		}
		// Device lookup enforces tenancy before any readings are fetched.
		if _, err := h.store.GetDevice(ctx, deviceID, orgID); err != nil {
			return nil, err
		}
		readings, err := h.store.ListReadings(ctx, deviceID, orgID, readingType, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"readings": readings, "count": len(readings)}, nil

	case "trigger_endpoint":
		endpointID, _ := args["endpoint_id"].(string)
		if endpointID == "" {
			return nil, errors.New("endpoint_id is required")
		}
		return h.registry.Invoke(ctx, "endpoints", &backend.Request{
			OrganizationID: orgID,
			UserID:         session.UserID,
			UserRole:       session.Role,
			Method:         http.MethodPost,
			ResourceID:     endpointID,
			Query:          url.Values{},
			Body:           map[string]any{"payload": args["payload"]},
			Timestamp:      time.Now().UTC(),
		})

	default:
		return nil, errUnknownTool
	}
}

func (h *MCPHandler) renderToolError(w http.ResponseWriter, tool string, err error) {
	switch {
	case errors.Is(err, errUnknownTool):
		writeError(w, http.StatusNotFound, "Unknown tool",
			map[string]interface{}{"tool": tool})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Resource not found")
	case errors.Is(err, backend.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		// Argument validation errors surface as 400; anything else would
		// have been wrapped by the store or backend.
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// Resources lists readable resources, or reads one when ?uri= is given.
// GET /api/mcp/resources
func (h *MCPHandler) Resources(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeJSON(w, http.StatusOK, map[string]any{"resources": resourceDescriptors()})
		return
	}

	var (
		content any
		err     error
	)
	switch uri {
	case "iot://devices":
		content, err = h.store.ListDevices(r.Context(), session.OrganizationID)
	case "iot://endpoints":
		content, err = h.store.ListEndpoints(r.Context(), session.OrganizationID)
	case "iot://alarms":
		content, err = h.store.ListActiveAlarms(r.Context(), session.OrganizationID, queryInt(r, "limit", 50))
	default:
		writeError(w, http.StatusNotFound, "Unknown resource",
			map[string]interface{}{"uri": uri})
		return
	}
	if err != nil {
		h.log.Error("resource read failed", "uri", uri, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uri": uri, "content": content})
}

// Prompts lists the available prompt templates.
// GET /api/mcp/prompts
func (h *MCPHandler) Prompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prompts": promptDescriptors()})
}

// Context returns an organization snapshot for model grounding: fleet size
// and active alarms as of now.
// GET /api/mcp/context
func (h *MCPHandler) Context(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	ctx := r.Context()
	deviceCount, err := h.store.CountDevices(ctx, session.OrganizationID)
	if err != nil {
		h.log.Error("context snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
		return
	}
	alarms, err := h.store.ListActiveAlarms(ctx, session.OrganizationID, 10)
	if err != nil {
		h.log.Error("context snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal processing error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"organization_id": session.OrganizationID,
		"user_role":       session.Role,
		"device_count":    deviceCount,
		"active_alarms":   alarms,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}
