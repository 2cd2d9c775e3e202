// Package openapi builds and serves the gateway's OpenAPI 3 document.
package openapi

import (
	"encoding/json"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// Spec constructs the OpenAPI document for the gateway's public surface:
// the auth plane, the dashboard API, and the MCP endpoints.
func Spec() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "IoT Gateway API",
			Description: "Multi-tenant API gateway for IoT platforms: key validation, rate limiting, resource routing, and MCP.",
			Version:     "1.0.0",
		},
		Paths: openapi3.NewPaths(),
	}

	authEnvelope := openapi3.NewObjectSchema().
		WithProperty("success", openapi3.NewBoolSchema()).
		WithProperty("api_key_id", openapi3.NewStringSchema()).
		WithProperty("organization_id", openapi3.NewStringSchema()).
		WithProperty("scopes", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("rate_limit_allowed", openapi3.NewBoolSchema()).
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("processing_time_ms", openapi3.NewInt64Schema()).
		WithProperty("timestamp", openapi3.NewStringSchema())

	jsonResponse := func(desc string, schema *openapi3.Schema) *openapi3.Responses {
		resp := openapi3.NewResponse().
			WithDescription(desc).
			WithJSONSchema(schema)
		responses := openapi3.NewResponses()
		responses.Set("200", &openapi3.ResponseRef{Value: resp})
		return responses
	}

	doc.Paths.Set("/gw/validate-key", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "validateKey",
			Summary:     "Validate an API key without consuming quota",
			Responses:   jsonResponse("Validation result", authEnvelope),
		},
	})
	doc.Paths.Set("/gw/rate-limit", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "checkAndCommitRateLimit",
			Summary:     "Check quota for a validated key and consume one unit",
			Responses:   jsonResponse("Quota decision", authEnvelope),
		},
	})
	doc.Paths.Set("/gw/rate-limit/check", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "checkRateLimit",
			Summary:     "Check quota without consuming it",
			Responses:   jsonResponse("Quota decision", authEnvelope),
		},
	})
	doc.Paths.Set("/gw/auth", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "authorize",
			Summary:     "Full authorization: credential first, then quota",
			Responses:   jsonResponse("Authorization result", authEnvelope),
		},
	})

	deviceSchema := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewStringSchema()).
		WithProperty("organization_id", openapi3.NewStringSchema()).
		WithProperty("name", openapi3.NewStringSchema()).
		WithProperty("type", openapi3.NewStringSchema()).
		WithProperty("status", openapi3.NewStringSchema())

	doc.Paths.Set("/api/{resource}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{Value: openapi3.NewPathParameter("resource").WithSchema(openapi3.NewStringSchema())},
		},
		Get: &openapi3.Operation{
			OperationID: "listResources",
			Summary:     "List resources of the given type (member role or above)",
			Responses:   jsonResponse("Resource collection", openapi3.NewObjectSchema()),
		},
		Post: &openapi3.Operation{
			OperationID: "createResource",
			Summary:     "Create a resource (admin role or above)",
			Responses:   jsonResponse("Created resource", deviceSchema),
		},
	})
	doc.Paths.Set("/api/mcp/tools/execute", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "executeMCPTool",
			Summary:     "Execute an MCP tool scoped to the caller's organization",
			Responses:   jsonResponse("Tool result", openapi3.NewObjectSchema()),
		},
	})
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "healthz",
			Summary:     "Liveness probe",
			Responses:   jsonResponse("Liveness", openapi3.NewObjectSchema().WithProperty("status", openapi3.NewStringSchema())),
		},
	})

	return doc
}

// Handler serves the document as JSON.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Spec())
	}
}
