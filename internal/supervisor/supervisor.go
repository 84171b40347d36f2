// Package supervisor is the single entry point for running scripts on the
// vehicle. It serializes executions, assigns ids, and turns stop requests
// into engine interrupts and motor stops.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockcar/vehicled/internal/events"
	"github.com/blockcar/vehicled/internal/hal"
	"github.com/blockcar/vehicled/internal/log"
	"github.com/blockcar/vehicled/internal/sandbox"
)

// IDPrefix starts every generated execution id.
const IDPrefix = "exec_"

// Config carries the engine limits plus the supervisor's timeout bounds.
type Config struct {
	Engine     sandbox.Config
	MaxTimeout time.Duration
}

// Request asks for one script execution. ID and Timeout are optional.
type Request struct {
	Source  string
	ID      string
	Timeout time.Duration
}

// Record is the outcome of StartExecution. It is never persisted.
type Record struct {
	ID string
	sandbox.Result
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Executing     bool   `json:"executing"`
	CurrentID     string `json:"current_execution_id,omitempty"`
	Interrupted   bool   `json:"interrupted"`
	StopRequested bool   `json:"stop_requested"`
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPublisher routes execution events to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Supervisor) { s.events = p }
}

// WithIDFunc replaces the execution id generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Supervisor) { s.newID = fn }
}

// WithLogger sets the supervisor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// Supervisor owns the engine and the hardware provider.
type Supervisor struct {
	engine     *sandbox.Engine
	provider   hal.Provider
	events     events.Publisher
	logger     *slog.Logger
	newID      func() string
	defTimeout time.Duration
	maxTimeout time.Duration

	mu            sync.Mutex
	active        bool
	currentID     string
	stopRequested bool
}

// New builds a supervisor and its engine around provider.
func New(provider hal.Provider, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		provider:   provider,
		logger:     log.WithComponent("supervisor"),
		newID:      newExecutionID,
		defTimeout: cfg.Engine.DefaultTimeout,
		maxTimeout: cfg.MaxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defTimeout <= 0 {
		s.defTimeout = sandbox.DefaultConfig().DefaultTimeout
	}
	if s.maxTimeout > 0 && s.defTimeout > s.maxTimeout {
		s.defTimeout = s.maxTimeout
	}

	s.engine = sandbox.NewEngine(provider, cfg.Engine,
		sandbox.WithLogger(log.WithComponent("engine")),
		sandbox.WithOutputObserver(s.onOutput),
	)
	return s
}

func newExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return IDPrefix + uuid.NewString()
	}
	return IDPrefix + id.String()
}

// StartExecution runs req to completion, timeout or interruption and
// returns its record. A request arriving while another execution is running
// is refused with a BusyFault and changes nothing.
func (s *Supervisor) StartExecution(ctx context.Context, req Request) Record {
	s.mu.Lock()
	if s.active || s.engine.IsExecuting() {
		s.mu.Unlock()
		s.logger.Warn("execution refused, engine busy")
		return Record{ID: req.ID, Result: sandbox.Result{
			Err:    &sandbox.BusyFault{Reason: "an execution is already running"},
			Output: []string{},
		}}
	}
	id := req.ID
	if id == "" {
		id = s.newID()
	}
	s.active = true
	s.mu.Unlock()

	timeout := s.normalizeTimeout(req.Timeout)
	logger := s.logger.With("execution_id", id)

	// The id and the stop flag only change once the engine takes the
	// request; a worker left over from a timeout can still refuse it.
	started := false
	res := s.engine.Run(ctx, req.Source, timeout, func() {
		s.mu.Lock()
		started = true
		s.currentID = id
		s.stopRequested = false
		s.mu.Unlock()
		logger.Info("execution started", "timeout", timeout, "source_bytes", len(req.Source))
		s.publish(events.ExecutionStarted, map[string]any{
			"execution_id": id,
			"timeout_s":    timeout.Seconds(),
		})
	})

	s.mu.Lock()
	s.active = false
	if s.currentID == id {
		s.currentID = ""
	}
	s.mu.Unlock()

	if !started {
		logger.Warn("execution refused", "error", res.Err)
		return Record{ID: req.ID, Result: res}
	}

	rec := Record{ID: id, Result: res}
	s.report(logger, rec)
	return rec
}

func (s *Supervisor) report(logger *slog.Logger, rec Record) {
	payload := map[string]any{
		"execution_id": rec.ID,
		"success":      rec.Success,
		"duration_ms":  rec.Duration.Milliseconds(),
		"output_lines": len(rec.Output),
	}
	if rec.Success {
		logger.Info("execution finished", "duration", rec.Duration, "steps", rec.Steps)
		s.publish(events.ExecutionFinished, payload)
		return
	}

	payload["kind"] = string(rec.Kind())
	payload["error"] = rec.ErrorMessage()
	if rec.Kind() == sandbox.KindTimeout {
		logger.Warn("execution timed out", "error", rec.Err)
		s.publish(events.ExecutionTimedOut, payload)
		return
	}
	logger.Info("execution failed", "kind", rec.Kind(), "error", rec.Err)
	s.publish(events.ExecutionFailed, payload)
}

// StopExecution interrupts the running execution, if any, and reports
// whether there was one.
func (s *Supervisor) StopExecution() bool {
	s.mu.Lock()
	if !s.active && !s.engine.IsExecuting() {
		s.mu.Unlock()
		return false
	}
	id := s.currentID
	s.stopRequested = true
	s.currentID = ""
	s.mu.Unlock()

	s.engine.Interrupt()
	s.logger.Info("execution stop requested", "execution_id", id)
	s.publish(events.ExecutionStopped, map[string]any{"execution_id": id})
	return true
}

// EmergencyStop halts the motors first, then stops any running execution.
// A failing Provider.Stop is logged and returned; the bookkeeping still happens.
func (s *Supervisor) EmergencyStop() error {
	var stopErr error
	if s.provider != nil {
		if stopErr = s.provider.Stop(); stopErr != nil {
			s.logger.Error("emergency motor stop failed", "error", stopErr)
		}
	}

	stopped := s.StopExecution()
	s.logger.Warn("emergency stop", "execution_stopped", stopped)

	payload := map[string]any{"execution_stopped": stopped}
	if stopErr != nil {
		payload["error"] = stopErr.Error()
	}
	s.publish(events.EmergencyStop, payload)
	return stopErr
}

// Status returns a snapshot without waiting for the running execution.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Executing:     s.active || s.engine.IsExecuting(),
		CurrentID:     s.currentID,
		Interrupted:   s.engine.Interrupted(),
		StopRequested: s.stopRequested,
	}
}

// Provider returns the hardware provider the supervisor drives.
func (s *Supervisor) Provider() hal.Provider { return s.provider }

func (s *Supervisor) normalizeTimeout(t time.Duration) time.Duration {
	if t <= 0 {
		t = s.defTimeout
	}
	if s.maxTimeout > 0 && t > s.maxTimeout {
		t = s.maxTimeout
	}
	return t
}

func (s *Supervisor) onOutput(line string) {
	s.mu.Lock()
	id := s.currentID
	s.mu.Unlock()

	s.logger.Info("script output", "execution_id", id, "line", line)
	s.publish(events.ScriptOutput, map[string]any{"execution_id": id, "line": line})
}

func (s *Supervisor) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}
