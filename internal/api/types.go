package api

import (
	"github.com/blockcar/vehicled/internal/hal"
	"github.com/blockcar/vehicled/internal/supervisor"
)

// Error codes returned in ErrorResponse.Code.
const (
	codeUnauthorized = "UNAUTHORIZED"
	codeBadRequest   = "BAD_REQUEST"
	codeCodeEmpty    = "CODE_EMPTY"
	codeBusy         = "EXECUTOR_BUSY"
	codeStopFailed   = "STOP_FAILED"
	codeInternal     = "INTERNAL"
)

// ExecuteRequest is the JSON body for POST /api/execute.
type ExecuteRequest struct {
	Code        string `json:"code"`
	ExecutionID string `json:"execution_id,omitempty"`
	// Timeout is in seconds; zero or absent selects the default.
	Timeout float64 `json:"timeout,omitempty"`
}

// ExecuteResponse reports a finished execution.
type ExecuteResponse struct {
	Success     bool     `json:"success"`
	Error       *string  `json:"error"`
	ErrorKind   string   `json:"error_kind,omitempty"`
	ErrorLine   int      `json:"error_line,omitempty"`
	Output      []string `json:"output"`
	ExecutionID string   `json:"execution_id"`
	Digest      string   `json:"digest,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	VehicleID string `json:"vehicle_id"`
	supervisor.Status
	Hardware *hal.Snapshot `json:"hardware,omitempty"`
}

// StopResponse is returned by the stop endpoints.
type StopResponse struct {
	Stopped bool   `json:"stopped"`
	Message string `json:"message"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	VehicleID     string `json:"vehicle_id"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Executing     bool   `json:"executing"`
}
