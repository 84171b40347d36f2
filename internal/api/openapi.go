package api

import "net/http"

// buildOpenAPIDoc describes the control API as an OpenAPI 3.1 document.
func buildOpenAPIDoc(withAuth bool) map[string]any {
	secured := func(op map[string]any) map[string]any {
		if withAuth {
			op["security"] = []any{map[string]any{"BearerAuth": []string{}}}
		}
		return op
	}
	jsonBody := func(ref string) map[string]any {
		return map[string]any{
			"content": map[string]any{
				"application/json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/" + ref}},
			},
		}
	}
	described := func(desc, ref string) map[string]any {
		out := jsonBody(ref)
		out["description"] = desc
		return out
	}

	paths := map[string]any{
		"/healthz": map[string]any{"get": map[string]any{
			"operationId": "healthz",
			"summary":     "Liveness probe",
			"responses":   map[string]any{"200": described("Service is up", "Healthz")},
		}},
		"/api/status": map[string]any{"get": secured(map[string]any{
			"operationId": "status",
			"summary":     "Execution state and hardware snapshot",
			"responses":   map[string]any{"200": described("Current status", "Status")},
		})},
		"/api/execute": map[string]any{"post": secured(map[string]any{
			"operationId": "execute",
			"summary":     "Run a script and wait for its result",
			"requestBody": jsonBody("ExecuteRequest"),
			"responses": map[string]any{
				"200": described("Execution finished, timed out or was stopped", "ExecuteResponse"),
				"400": described("Empty code or malformed body", "Error"),
				"409": described("Another execution is running", "Error"),
			},
		})},
		"/api/stop": map[string]any{"post": secured(map[string]any{
			"operationId": "stop",
			"summary":     "Interrupt the running script",
			"responses":   map[string]any{"200": described("Stop result", "StopResponse")},
		})},
		"/api/emergency-stop": map[string]any{"post": secured(map[string]any{
			"operationId": "emergencyStop",
			"summary":     "Halt all motors and interrupt the running script",
			"responses": map[string]any{
				"200": described("Motors halted", "StopResponse"),
				"500": described("Motor stop failed", "Error"),
			},
		})},
		"/events": map[string]any{"get": secured(map[string]any{
			"operationId": "events",
			"summary":     "Server-sent execution events",
			"responses": map[string]any{"200": map[string]any{
				"description": "Event stream",
				"content":     map[string]any{"text/event-stream": map[string]any{}},
			}},
		})},
	}

	str := map[string]any{"type": "string"}
	components := map[string]any{
		"schemas": map[string]any{
			"ExecuteRequest": map[string]any{
				"type":     "object",
				"required": []string{"code"},
				"properties": map[string]any{
					"code":         str,
					"execution_id": str,
					"timeout":      map[string]any{"type": "number", "exclusiveMinimum": 0},
				},
			},
			"ExecuteResponse": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"success":      map[string]any{"type": "boolean"},
					"error":        map[string]any{"type": []string{"string", "null"}},
					"error_kind":   map[string]any{"enum": []string{"compile", "runtime", "timeout"}},
					"error_line":   map[string]any{"type": "integer"},
					"output":       map[string]any{"type": "array", "items": str},
					"execution_id": str,
					"digest":       str,
					"duration_ms":  map[string]any{"type": "integer"},
				},
			},
			"Status":       map[string]any{"type": "object"},
			"Healthz":      map[string]any{"type": "object"},
			"StopResponse": map[string]any{"type": "object"},
			"Error": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"error": str,
					"code":  str,
				},
			},
		},
	}
	if withAuth {
		components["securitySchemes"] = map[string]any{
			"BearerAuth": map[string]any{"type": "http", "scheme": "bearer"},
		}
	}

	return map[string]any{
		"openapi":    "3.1.0",
		"info":       map[string]any{"title": "vehicled", "version": "1.0"},
		"paths":      paths,
		"components": components,
	}
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.APIKey != ""))
}
