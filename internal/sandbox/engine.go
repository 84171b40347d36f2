package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"

	"github.com/blockcar/vehicled/internal/hal"
	"github.com/blockcar/vehicled/internal/log"
)

// State is the engine's execution state.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateInterrupted State = "interrupted"
)

var undefinedName = regexp.MustCompile(`predeclared variable (\S+) is uninitialized`)

const cancelPrefix = "Starlark computation cancelled: "

// Config bounds script execution.
type Config struct {
	DefaultTimeout time.Duration
	WaitCeiling    time.Duration
	// AbandonGrace is how long Execute waits for a timed-out worker before
	// refusing with a BusyFault.
	AbandonGrace   time.Duration
	MaxSteps       uint64
	MaxSourceBytes int
	MaxOutputLines int
	// StopOnFault halts the motors when a script raises.
	StopOnFault bool
}

// DefaultConfig returns the stock execution limits.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		WaitCeiling:    DefaultWaitCeiling,
		AbandonGrace:   2 * time.Second,
		MaxSourceBytes: 64 << 10,
		MaxOutputLines: 10000,
		StopOnFault:    true,
	}
}

// Result is the outcome of one Execute call. Err is nil on success and
// otherwise one of *CompileError, *RuntimeFault, *TimeoutFault or *BusyFault.
type Result struct {
	Success  bool
	Err      error
	Output   []string
	Digest   string
	Steps    uint64
	Duration time.Duration
}

// Kind classifies Err.
func (r Result) Kind() Kind { return KindOf(r.Err) }

// ErrorMessage returns Err's message, or "" on success.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func failed(err error) Result {
	return Result{Err: err, Output: []string{}}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithOutputObserver registers a callback for every captured output line.
func WithOutputObserver(fn func(line string)) Option {
	return func(e *Engine) { e.observe = fn }
}

// Engine runs at most one script at a time against a capability provider.
type Engine struct {
	cfg      Config
	provider hal.Provider
	logger   *slog.Logger
	observe  func(string)

	mu          sync.Mutex
	state       State
	token       *Token
	interrupted bool
	abandoned   chan struct{}
}

// NewEngine creates an idle engine. provider may be nil, in which case
// scripts see no capabilities and stops are no-ops.
func NewEngine(provider hal.Provider, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.WaitCeiling <= 0 {
		cfg.WaitCeiling = def.WaitCeiling
	}
	if cfg.AbandonGrace < 0 {
		cfg.AbandonGrace = 0
	}

	e := &Engine{
		cfg:      cfg,
		provider: provider,
		logger:   log.WithComponent("engine"),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current execution state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsExecuting reports whether a script is running.
func (e *Engine) IsExecuting() bool {
	return e.State() == StateRunning
}

// Interrupted reports whether the current or most recent execution was
// interrupted or timed out. It clears when the next Execute starts.
func (e *Engine) Interrupted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interrupted || e.state == StateInterrupted
}

// AbandonedAlive reports whether a timed-out worker is still running.
func (e *Engine) AbandonedAlive() bool {
	e.mu.Lock()
	ch := e.abandoned
	e.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return false
	default:
		return true
	}
}

// Interrupt flags the running execution, trips its token and halts the
// motors. The stop is issued whether or not anything is running. It reports
// whether an execution was running.
func (e *Engine) Interrupt() bool {
	e.mu.Lock()
	running := e.state == StateRunning
	token := e.token
	if running {
		e.interrupted = true
	}
	e.mu.Unlock()

	if running && token != nil {
		token.Interrupt(ErrInterrupted)
	}
	e.stopMotors("interrupt")
	return running
}

// Execute compiles and runs source, waiting at most timeout (DefaultTimeout
// when non-positive). It never panics; every failure is reported in Result.
func (e *Engine) Execute(ctx context.Context, source string, timeout time.Duration) Result {
	return e.Run(ctx, source, timeout, nil)
}

// Run is Execute with a hook called once the engine has accepted the
// request, before the script is compiled. When Run returns a BusyFault the
// hook was never called.
func (e *Engine) Run(ctx context.Context, source string, timeout time.Duration, accepted func()) Result {
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	// Claim the engine and arm a fresh token in one step so an Interrupt
	// arriving at any point from here on reaches this execution.
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return failed(&BusyFault{Reason: "an execution is already running"})
	}
	prevState, prevToken, prevInterrupted := e.state, e.token, e.interrupted
	stale := e.abandoned
	token := NewToken()
	e.state, e.token, e.interrupted = StateRunning, token, false
	e.mu.Unlock()

	// A worker abandoned by an earlier timeout may still be inside a
	// capability. Give it a moment, then refuse rather than run two scripts.
	if stale != nil && !waitClosed(stale, e.cfg.AbandonGrace) {
		e.mu.Lock()
		e.state, e.token, e.interrupted = prevState, prevToken, prevInterrupted
		e.mu.Unlock()
		e.logger.Warn("refusing execution while abandoned worker is alive")
		return failed(&BusyFault{Reason: "previous execution has not exited"})
	}
	if stale != nil {
		e.mu.Lock()
		if e.abandoned == stale {
			e.abandoned = nil
		}
		e.mu.Unlock()
	}

	if accepted != nil {
		accepted()
	}

	output := NewOutputBuffer(e.cfg.MaxOutputLines, e.observe)

	start := time.Now()
	unit, ns, err := e.prepare(source, token, output)
	if err != nil {
		e.setState(StateIdle)
		e.logger.Info("script rejected", "error", err)
		return failed(err)
	}

	thread := &starlark.Thread{
		Name:  "script",
		Print: func(_ *starlark.Thread, msg string) { output.Emit(msg) },
	}
	thread.SetLocal(tokenLocal, token)
	if e.cfg.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.cfg.MaxSteps)
	}

	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("internal error: %v", r)
			}
		}()
		done <- unit.run(thread, ns)
	}()

	// Tripping the token stops the interpreter at its next step.
	go func() {
		select {
		case <-token.Done():
			thread.Cancel(token.Cause().Error())
		case <-exited:
		}
	}()

	e.logger.Debug("script started", "digest", unit.Digest(), "timeout", timeout)

	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	select {
	case runErr := <-done:
		res := e.finish(token, runErr, output, thread)
		res.Digest = unit.Digest()
		res.Duration = time.Since(start)
		return res

	case <-timeoutTimer.C:
		e.logger.Warn("script timed out, abandoning worker", "timeout", timeout)
		e.abandon(token, exited, ErrTimeout)
		return Result{
			Err:      &TimeoutFault{Timeout: timeout},
			Output:   output.Lines(),
			Digest:   unit.Digest(),
			Duration: time.Since(start),
		}

	case <-ctx.Done():
		e.logger.Warn("caller went away, abandoning worker", "error", ctx.Err())
		e.abandon(token, exited, ErrCancelled)
		return Result{
			Err:      &RuntimeFault{Message: ErrCancelled.Error(), cause: ErrCancelled},
			Output:   output.Lines(),
			Digest:   unit.Digest(),
			Duration: time.Since(start),
		}
	}
}

// prepare compiles source and builds its namespace. It runs after the engine
// is claimed, so a panic from the interpreter or the provider is turned into
// a fault instead of leaving the engine marked running.
func (e *Engine) prepare(source string, token *Token, output *OutputBuffer) (unit *Unit, ns *Namespace, err error) {
	compiled := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e.logger.Error("panic while preparing script", "panic", r, "compiled", compiled)
		unit, ns = nil, nil
		if !compiled {
			err = &CompileError{Reason: fmt.Sprintf("internal error: %v", r)}
		} else {
			err = &RuntimeFault{Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	unit, err = Compile(source, CompileOptions{MaxSourceBytes: e.cfg.MaxSourceBytes})
	if err != nil {
		return nil, nil, err
	}
	compiled = true

	ns = BuildNamespace(e.provider, output, NamespaceOptions{
		Token:       token,
		WaitCeiling: e.cfg.WaitCeiling,
		Logger:      e.logger,
	})
	return unit, ns, nil
}

// finish settles an execution whose worker returned in time.
func (e *Engine) finish(token *Token, runErr error, output *OutputBuffer, thread *starlark.Thread) Result {
	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()

	res := Result{Output: output.Lines(), Steps: thread.ExecutionSteps()}
	if dropped := output.Dropped(); dropped > 0 {
		e.logger.Warn("output truncated", "dropped_lines", dropped)
	}
	if runErr == nil {
		res.Success = true
		return res
	}

	fault := classify(runErr, token)
	res.Err = fault
	if e.cfg.StopOnFault && !errors.Is(fault, ErrInterrupted) {
		e.stopMotors("runtime fault")
	}
	return res
}

// abandon gives up on a worker that has not returned. Its token stays
// tripped forever, so any capability it reaches later halts instead of moving.
func (e *Engine) abandon(token *Token, exited chan struct{}, cause error) {
	token.Interrupt(cause)

	e.mu.Lock()
	e.state = StateInterrupted
	e.interrupted = true
	e.abandoned = exited
	e.mu.Unlock()

	e.stopMotors(cause.Error())

	go func() {
		<-exited
		e.logger.Info("abandoned worker exited")
		e.mu.Lock()
		if e.abandoned == exited {
			e.abandoned = nil
		}
		e.mu.Unlock()
	}()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) stopMotors(reason string) {
	if e.provider == nil {
		return
	}
	if err := e.provider.Stop(); err != nil {
		e.logger.Error("motor stop failed", "reason", reason, "error", err)
	}
}

// classify turns an interpreter error into a RuntimeFault.
func classify(err error, token *Token) *RuntimeFault {
	fault := &RuntimeFault{Message: err.Error(), cause: err}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		fault.Message = evalErr.Msg
		fault.Backtrace = evalErr.Backtrace()
		fault.Line = scriptLine(evalErr.CallStack)
	}

	if m := undefinedName.FindStringSubmatch(fault.Message); m != nil {
		fault.Message = fmt.Sprintf("name '%s' is not defined", m[1])
	}

	if strings.HasPrefix(fault.Message, cancelPrefix) {
		reason := strings.TrimPrefix(fault.Message, cancelPrefix)
		switch {
		case token.Interrupted():
			fault.Message = ErrInterrupted.Error()
			fault.cause = ErrInterrupted
		case reason == "too many steps":
			fault.Message = "step limit exceeded"
		}
	}
	if errors.Is(err, ErrInterrupted) {
		fault.Message = ErrInterrupted.Error()
	}
	return fault
}

// scriptLine returns the innermost script line of a call stack.
func scriptLine(stack starlark.CallStack) int {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].Pos.Filename() == ScriptFilename {
			return int(stack[i].Pos.Line)
		}
	}
	return 0
}

func waitClosed(ch <-chan struct{}, grace time.Duration) bool {
	select {
	case <-ch:
		return true
	default:
	}
	if grace <= 0 {
		return false
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
