package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/blockcar/vehicled/internal/sandbox"
	"github.com/blockcar/vehicled/internal/supervisor"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		VehicleID:     s.config.VehicleID,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Executing:     s.exec.Status().Executing,
	})
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		VehicleID: s.config.VehicleID,
		Status:    s.exec.Status(),
	}
	if s.sensors != nil {
		snap := s.sensors.Snapshot()
		resp.Hardware = &snap
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleExecute handles POST /api/execute. It blocks until the script
// finishes, times out or is stopped.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		s.writeError(w, http.StatusBadRequest, codeCodeEmpty, "code must not be empty")
		return
	}
	if math.IsNaN(req.Timeout) || math.IsInf(req.Timeout, 0) || req.Timeout < 0 {
		s.writeError(w, http.StatusBadRequest, codeBadRequest, "timeout must be a positive number of seconds")
		return
	}

	rec := s.exec.StartExecution(r.Context(), supervisor.Request{
		Source:  req.Code,
		ID:      req.ExecutionID,
		Timeout: time.Duration(req.Timeout * float64(time.Second)),
	})

	if rec.Kind() == sandbox.KindBusy {
		s.writeError(w, http.StatusConflict, codeBusy, rec.ErrorMessage())
		return
	}
	respondJSON(w, http.StatusOK, executeResponse(rec))
}

func executeResponse(rec supervisor.Record) ExecuteResponse {
	resp := ExecuteResponse{
		Success:     rec.Success,
		Output:      rec.Output,
		ExecutionID: rec.ID,
		Digest:      rec.Digest,
		DurationMS:  rec.Duration.Milliseconds(),
	}
	if resp.Output == nil {
		resp.Output = []string{}
	}
	if rec.Err != nil {
		msg := rec.ErrorMessage()
		resp.Error = &msg
		resp.ErrorKind = string(rec.Kind())
		var ce *sandbox.CompileError
		var rf *sandbox.RuntimeFault
		switch {
		case errors.As(rec.Err, &ce):
			resp.ErrorLine = ce.Line
		case errors.As(rec.Err, &rf):
			resp.ErrorLine = rf.Line
		}
	}
	return resp
}

// handleStop handles POST /api/stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.exec.StopExecution() {
		respondJSON(w, http.StatusOK, StopResponse{Stopped: false, Message: "no execution running"})
		return
	}
	respondJSON(w, http.StatusOK, StopResponse{Stopped: true, Message: "execution stopped"})
}

// handleEmergencyStop handles POST /api/emergency-stop.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := s.exec.EmergencyStop(); err != nil {
		s.logger.Error("emergency stop failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, codeStopFailed, "emergency stop failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, StopResponse{Stopped: true, Message: "emergency stop executed"})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}
