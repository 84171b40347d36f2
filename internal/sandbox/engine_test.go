package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockcar/vehicled/internal/hal"
	"github.com/blockcar/vehicled/internal/hal/mocks"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 5 * time.Second
	cfg.WaitCeiling = 2 * time.Second
	return cfg
}

func newSimEngine(t *testing.T, cfg Config) (*Engine, *hal.Simulator) {
	t.Helper()
	sim := hal.NewSimulator(hal.DefaultSimulatorConfig())
	return NewEngine(sim, cfg), sim
}

func TestExecuteSuccess(t *testing.T) {
	eng, sim := newSimEngine(t, testConfig())

	res := eng.Execute(context.Background(), "forward(50); stop()", 0)
	require.True(t, res.Success, res.ErrorMessage())
	assert.NoError(t, res.Err)
	assert.Equal(t, KindNone, res.Kind())
	assert.Equal(t, []string{}, res.Output)
	assert.Len(t, res.Digest, 64)
	assert.Positive(t, res.Steps)
	assert.Equal(t, [4]int{}, sim.Snapshot().Motors)
	assert.Equal(t, []string{"qianjin(50)", "tingzhi()"}, sim.Journal())
	assert.Equal(t, StateIdle, eng.State())
	assert.False(t, eng.Interrupted())
}

func TestExecuteCollectsOutputInOrder(t *testing.T) {
	eng, _ := newSimEngine(t, testConfig())

	res := eng.Execute(context.Background(), "for i in range(5):\n    print('line', i)\n", 0)
	require.True(t, res.Success, res.ErrorMessage())
	assert.Equal(t, []string{"line 0", "line 1", "line 2", "line 3", "line 4"}, res.Output)
}

func TestExecuteOutputLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOutputLines = 3
	eng, _ := newSimEngine(t, cfg)

	res := eng.Execute(context.Background(), "for i in range(10):\n    print(i)\n", 0)
	require.True(t, res.Success)
	assert.Equal(t, []string{"0", "1", "2"}, res.Output)
}

func TestExecuteOutputObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	sim := hal.NewSimulator(hal.DefaultSimulatorConfig())
	eng := NewEngine(sim, testConfig(), WithOutputObserver(func(line string) {
		mu.Lock()
		seen = append(seen, line)
		mu.Unlock()
	}))

	res := eng.Execute(context.Background(), "print('a')\nprint('b')\n", 0)
	require.True(t, res.Success)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestExecuteFreshOutputPerRun(t *testing.T) {
	eng, _ := newSimEngine(t, testConfig())

	first := eng.Execute(context.Background(), "print('one')", 0)
	second := eng.Execute(context.Background(), "print('two')", 0)
	assert.Equal(t, []string{"one"}, first.Output)
	assert.Equal(t, []string{"two"}, second.Output)
}

func TestExecuteEmptyScript(t *testing.T) {
	eng, sim := newSimEngine(t, testConfig())

	res := eng.Execute(context.Background(), "", 0)
	assert.True(t, res.Success)
	assert.Equal(t, []string{}, res.Output)
	assert.Empty(t, sim.Journal())
}

func TestExecuteCompileRejection(t *testing.T) {
	eng, sim := newSimEngine(t, testConfig())

	res := eng.Execute(context.Background(), "print('moving')\nimport os\nforward(50)\n", 0)
	assert.False(t, res.Success)
	assert.Equal(t, KindCompile, res.Kind())
	assert.NotNil(t, res.Output)
	assert.Equal(t, []string{}, res.Output)
	assert.Empty(t, sim.Journal(), "a rejected script must not touch the vehicle")
	assert.Equal(t, StateIdle, eng.State())
}

func TestExecuteRuntimeFault(t *testing.T) {
	eng, sim := newSimEngine(t, testConfig())

	res := eng.Execute(context.Background(), "print('before')\nforward(40)\nx = 1 / 0\nprint('after')\n", 0)
	assert.False(t, res.Success)
	assert.Equal(t, KindRuntime, res.Kind())
	assert.Equal(t, []string{"before"}, res.Output)

	var fault *RuntimeFault
	require.True(t, errors.As(res.Err, &fault))
	assert.Contains(t, fault.Message, "division by zero")
	assert.Equal(t, 3, fault.Line)
	assert.NotEmpty(t, fault.Backtrace)

	// Motors are halted after a fault.
	snap := sim.Snapshot()
	assert.Equal(t, [4]int{}, snap.Motors)
	assert.Equal(t, 1, snap.Stops)
	assert.False(t, eng.Interrupted())
}

func TestExecuteRuntimeFaultWithoutStop(t *testing.T) {
	cfg := testConfig()
	cfg.StopOnFault = false
	eng, sim := newSimEngine(t, cfg)

	res := eng.Execute(context.Background(), "forward(40)\nfail_here()\n", 0)
	assert.Equal(t, KindRuntime, res.Kind())
	assert.Equal(t, 0, sim.Snapshot().Stops)
	assert.Equal(t, [4]int{40, 40, 40, 40}, sim.Snapshot().Motors)
}

func TestExecuteUndefinedName(t *testing.T) {
	eng, _ := newSimEngine(t, testConfig())

	res := eng.Execute(context.Background(), "print('start')\nfoo()\n", 0)
	assert.Equal(t, KindRuntime, res.Kind())
	assert.Equal(t, []string{"start"}, res.Output)

	var fault *RuntimeFault
	require.True(t, errors.As(res.Err, &fault))
	assert.Equal(t, "name 'foo' is not defined", fault.Message)
	assert.Equal(t, 2, fault.Line)
}

func TestExecuteAliasMatchesCanonical(t *testing.T) {
	scripts := map[string]string{
		"pinyin":  "qianjin(35)",
		"english": "forward(35)",
		"chinese": "前进(35)",
		"module":  "motion.qianjin(35)",
	}
	for name, src := range scripts {
		t.Run(name, func(t *testing.T) {
			eng, sim := newSimEngine(t, testConfig())
			res := eng.Execute(context.Background(), src, 0)
			require.True(t, res.Success, res.ErrorMessage())
			assert.Equal(t, [4]int{35, 35, 35, 35}, sim.Snapshot().Motors)
		})
	}
}

func TestExecuteBusyWhileRunning(t *testing.T) {
	eng, _ := newSimEngine(t, testConfig())

	done := make(chan Result, 1)
	go func() {
		done <- eng.Execute(context.Background(), "dengdai(2)", 0)
	}()
	require.Eventually(t, eng.IsExecuting, time.Second, 5*time.Millisecond)

	res := eng.Execute(context.Background(), "print('second')", 0)
	assert.Equal(t, KindBusy, res.Kind())
	assert.True(t, errors.Is(res.Err, ErrBusy))
	assert.Equal(t, []string{}, res.Output)

	assert.True(t, eng.Interrupt())
	first := <-done
	assert.Equal(t, KindRuntime, first.Kind())
}

func TestExecuteInterrupt(t *testing.T) {
	eng, sim := newSimEngine(t, testConfig())

	done := make(chan Result, 1)
	go func() {
		done <- eng.Execute(context.Background(), "while True:\n    qianjin(30)\n    print('tick')\n    dengdai(0.05)\n", 0)
	}()
	require.Eventually(t, func() bool { return sim.Snapshot().Motors[0] == 30 }, time.Second, 5*time.Millisecond)

	assert.True(t, eng.Interrupt())

	var res Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted execution did not return")
	}
	assert.False(t, res.Success)
	assert.Equal(t, KindRuntime, res.Kind())
	assert.True(t, errors.Is(res.Err, ErrInterrupted))
	assert.Equal(t, ErrInterrupted.Error(), res.Err.(*RuntimeFault).Message)

	assert.True(t, eng.Interrupted())
	assert.Equal(t, StateIdle, eng.State())
	assert.Equal(t, [4]int{}, sim.Snapshot().Motors)

	// The next execution starts clean.
	next := eng.Execute(context.Background(), "print('ok')", 0)
	assert.True(t, next.Success)
	assert.False(t, eng.Interrupted())
}

func TestInterruptWhileIdleStillStops(t *testing.T) {
	eng, sim := newSimEngine(t, testConfig())

	assert.False(t, eng.Interrupt())
	assert.Equal(t, 1, sim.Snapshot().Stops)
	assert.False(t, eng.Interrupted())
}

func TestExecuteTimeout(t *testing.T) {
	eng, sim := newSimEngine(t, testConfig())

	start := time.Now()
	res := eng.Execute(context.Background(), "print('spinning')\nwhile True:\n    pass\n", 100*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.False(t, res.Success)
	assert.Equal(t, KindTimeout, res.Kind())
	assert.True(t, errors.Is(res.Err, ErrTimeout))
	assert.Equal(t, []string{"spinning"}, res.Output)
	assert.Equal(t, StateInterrupted, eng.State())
	assert.True(t, eng.Interrupted())
	assert.GreaterOrEqual(t, sim.Snapshot().Stops, 1)

	// The token trips the interpreter, so the worker exits on its own.
	require.Eventually(t, func() bool { return !eng.AbandonedAlive() }, 2*time.Second, 10*time.Millisecond)

	next := eng.Execute(context.Background(), "print('again')", 0)
	assert.True(t, next.Success, next.ErrorMessage())
	assert.False(t, eng.Interrupted())
	assert.Equal(t, StateIdle, eng.State())
}

func TestExecuteAbandonedWorkerBlocksNextRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	release := make(chan struct{})
	mp := mocks.NewMockProvider(ctrl)
	mp.EXPECT().Lookup(gomock.Any()).DoAndReturn(func(name string) (hal.Capability, bool) {
		if name != "qianjin" {
			return hal.Capability{}, false
		}
		spec, _ := hal.SpecFor(name)
		return hal.Capability{Spec: spec, Call: func(context.Context, []any) (any, error) {
			// A driver call that ignores cancellation.
			<-release
			return nil, nil
		}}, true
	}).AnyTimes()
	mp.EXPECT().Stop().Return(nil).MinTimes(2)

	cfg := testConfig()
	cfg.AbandonGrace = 20 * time.Millisecond
	eng := NewEngine(mp, cfg)

	res := eng.Execute(context.Background(), "qianjin(40)", 50*time.Millisecond)
	require.Equal(t, KindTimeout, res.Kind())
	assert.True(t, eng.AbandonedAlive())

	busy := eng.Execute(context.Background(), "print('next')", 0)
	assert.Equal(t, KindBusy, busy.Kind())
	assert.Contains(t, busy.ErrorMessage(), "previous execution has not exited")
	assert.Equal(t, StateInterrupted, eng.State())
	assert.True(t, eng.Interrupted())

	// Once the stuck call returns, the worker sees its tripped token,
	// halts the motors and exits.
	close(release)
	require.Eventually(t, func() bool { return !eng.AbandonedAlive() }, 2*time.Second, 10*time.Millisecond)

	next := eng.Execute(context.Background(), "print('next')", 0)
	assert.True(t, next.Success, next.ErrorMessage())
	assert.Equal(t, []string{"next"}, next.Output)
}

func TestExecuteWhileLoop(t *testing.T) {
	eng, sim := newSimEngine(t, testConfig())

	src := "n = 0\nwhile n < 3:\n    qianjin(20)\n    n += 1\ntingzhi()\nprint(n)\n"
	res := eng.Execute(context.Background(), src, 0)
	require.True(t, res.Success, res.ErrorMessage())
	assert.Equal(t, []string{"3"}, res.Output)
	assert.Equal(t, []string{"qianjin(20)", "qianjin(20)", "qianjin(20)", "tingzhi()"}, sim.Journal())
	assert.Equal(t, StateIdle, eng.State())

	next := eng.Execute(context.Background(), "print(1)", 0)
	assert.True(t, next.Success, next.ErrorMessage())
}

func TestExecuteProviderPanicDuringSetup(t *testing.T) {
	ctrl := gomock.NewController(t)
	var broken atomic.Bool
	broken.Store(true)
	mp := mocks.NewMockProvider(ctrl)
	mp.EXPECT().Lookup(gomock.Any()).DoAndReturn(func(string) (hal.Capability, bool) {
		if broken.Load() {
			panic("driver table corrupt")
		}
		return hal.Capability{}, false
	}).AnyTimes()
	mp.EXPECT().Stop().Return(nil).AnyTimes()

	eng := NewEngine(mp, testConfig())

	res := eng.Execute(context.Background(), "print('never')", 0)
	assert.False(t, res.Success)
	assert.Equal(t, KindRuntime, res.Kind())
	assert.Contains(t, res.ErrorMessage(), "driver table corrupt")
	assert.Equal(t, []string{}, res.Output)
	assert.Equal(t, StateIdle, eng.State())
	assert.False(t, eng.IsExecuting())

	broken.Store(false)
	next := eng.Execute(context.Background(), "print('recovered')", 0)
	require.True(t, next.Success, next.ErrorMessage())
	assert.Equal(t, []string{"recovered"}, next.Output)
}

func TestExecuteTimeoutReachesGoSideLoops(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "sum", source: "sum(range(1000000000000))"},
		{name: "filter", source: "filter(None, range(1000000000000))"},
		{name: "map", source: "map(abs, range(1000000000000))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AbandonGrace = 0
			eng, _ := newSimEngine(t, cfg)

			res := eng.Execute(context.Background(), tt.source, 50*time.Millisecond)
			require.Equal(t, KindTimeout, res.Kind())

			// The builtin notices the tripped token and the worker exits,
			// so the engine accepts the next script.
			require.Eventually(t, func() bool { return !eng.AbandonedAlive() }, 2*time.Second, 10*time.Millisecond)
			next := eng.Execute(context.Background(), "print('after')", 0)
			assert.True(t, next.Success, next.ErrorMessage())
		})
	}
}

func TestInterruptStopsSum(t *testing.T) {
	eng, _ := newSimEngine(t, testConfig())

	done := make(chan Result, 1)
	go func() { done <- eng.Execute(context.Background(), "sum(range(1000000000000))", 0) }()
	require.Eventually(t, eng.IsExecuting, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.True(t, eng.Interrupt())

	select {
	case res := <-done:
		assert.Equal(t, KindRuntime, res.Kind())
		assert.True(t, errors.Is(res.Err, ErrInterrupted))
	case <-time.After(2 * time.Second):
		t.Fatal("sum ignored the interrupt")
	}
}

func TestExecuteStepLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSteps = 1000
	eng, sim := newSimEngine(t, cfg)

	res := eng.Execute(context.Background(), "n = 0\nwhile True:\n    n += 1\n", 0)
	assert.Equal(t, KindRuntime, res.Kind())
	assert.Equal(t, "step limit exceeded", res.Err.(*RuntimeFault).Message)
	assert.Equal(t, 1, sim.Snapshot().Stops)
	assert.False(t, eng.Interrupted())
}

func TestExecuteContextCancelled(t *testing.T) {
	eng, _ := newSimEngine(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := eng.Execute(ctx, "dengdai(2)", 0)
	assert.Equal(t, KindRuntime, res.Kind())
	assert.True(t, errors.Is(res.Err, ErrCancelled))
	assert.True(t, eng.Interrupted())

	require.Eventually(t, func() bool { return !eng.AbandonedAlive() }, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteWithoutProvider(t *testing.T) {
	eng := NewEngine(nil, testConfig())

	res := eng.Execute(context.Background(), "print(len([1, 2, 3]))", 0)
	require.True(t, res.Success)
	assert.Equal(t, []string{"3"}, res.Output)

	res = eng.Execute(context.Background(), "qianjin(10)", 0)
	assert.Equal(t, "name 'qianjin' is not defined", res.Err.(*RuntimeFault).Message)
	assert.False(t, eng.Interrupt())
}

func TestExecuteSourceLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSourceBytes = 16
	eng, _ := newSimEngine(t, cfg)

	res := eng.Execute(context.Background(), "print('this is far too long')", 0)
	assert.Equal(t, KindCompile, res.Kind())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindCompile, KindOf(&CompileError{Reason: "x"}))
	assert.Equal(t, KindRuntime, KindOf(&RuntimeFault{Message: "x"}))
	assert.Equal(t, KindTimeout, KindOf(&TimeoutFault{Timeout: time.Second}))
	assert.Equal(t, KindBusy, KindOf(&BusyFault{}))
	assert.Equal(t, KindRuntime, KindOf(errors.New("other")))

	assert.Equal(t, "executor busy", (&BusyFault{}).Error())
	assert.Equal(t, "compile error: x", (&CompileError{Reason: "x"}).Error())
	assert.Equal(t, "runtime error at line 4: boom", (&RuntimeFault{Message: "boom", Line: 4}).Error())
}
