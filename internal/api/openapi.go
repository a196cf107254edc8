package api

import (
	"github.com/mattjoyce/plantctl/internal/protocol"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the observer API.
func buildOpenAPIDoc() map[string]any {
	secured := []any{map[string]any{"BearerAuth": []string{}}}

	get := func(id, summary, contentType string) map[string]any {
		return map[string]any{
			"get": map[string]any{
				"operationId": id,
				"summary":     summary,
				"security":    secured,
				"responses": map[string]any{
					"200": map[string]any{
						"description": "OK",
						"content":     map[string]any{contentType: map[string]any{}},
					},
					"401": map[string]any{"description": "Missing or invalid API key"},
				},
			},
		}
	}

	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Loop liveness",
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
		"/registry":  get("registry", "Channels, strategy catalog and loop counters", "application/json"),
		"/snapshot":  get("snapshot", "Current full_state envelope", "application/json"),
		"/snapshots": get("snapshots", "Stream of full_state envelopes from the state mirror", "text/event-stream"),
		"/events":    get("events", "Stream of loop events", "text/event-stream"),
		"/ticks":     get("ticks", "Recent tick timing from the trace", "application/json"),
		"/commands": map[string]any{
			"post": map[string]any{
				"operationId": "command",
				"summary":     "Queue a command envelope for the loop",
				"security":    secured,
				"requestBody": map[string]any{
					"required": true,
					"content": map[string]any{
						"application/json": map[string]any{"schema": commandSchema()},
					},
				},
				"responses": map[string]any{
					"202": map[string]any{"description": "Command queued"},
					"400": map[string]any{"description": "Malformed envelope or unknown type"},
					"401": map[string]any{"description": "Missing or invalid API key"},
				},
			},
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "plantctl",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func commandSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"type"},
		"properties": map[string]any{
			"type": map[string]any{
				"type": "string",
				"enum": []string{
					protocol.TypeStartController,
					protocol.TypeStopController,
					protocol.TypeUpdateVariable,
					protocol.TypeUpdateSetpoint,
				},
			},
			"payload": map[string]any{"type": "object"},
		},
	}
}
