package sandbox

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/blockcar/vehicled/internal/hal"
	"github.com/blockcar/vehicled/internal/log"
)

// DefaultWaitCeiling caps a single wait call when NamespaceOptions leaves it unset.
const DefaultWaitCeiling = 5 * time.Second

// NamespaceOptions configures BuildNamespace.
type NamespaceOptions struct {
	// Token is the execution's interruption signal. A nil token never trips.
	Token *Token
	// WaitCeiling clamps dengdai/wait/time.sleep.
	WaitCeiling time.Duration
	Logger      *slog.Logger
}

// Namespace is the complete set of names a script can see.
type Namespace struct {
	values starlark.StringDict
}

// Lookup returns the value bound to name.
func (n *Namespace) Lookup(name string) (starlark.Value, bool) {
	v, ok := n.values[name]
	return v, ok
}

// Names returns every bound name, sorted.
func (n *Namespace) Names() []string {
	names := make([]string, 0, len(n.values))
	for k := range n.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type nsBuilder struct {
	provider hal.Provider
	sink     OutputSink
	token    *Token
	ceiling  time.Duration
	logger   *slog.Logger
	values   starlark.StringDict
}

// BuildNamespace assembles a fresh namespace for one execution. Capabilities
// the provider does not expose are left out; a script naming one fails when
// the name is evaluated. provider may be nil.
func BuildNamespace(provider hal.Provider, sink OutputSink, opts NamespaceOptions) *Namespace {
	b := &nsBuilder{
		provider: provider,
		sink:     sink,
		token:    opts.Token,
		ceiling:  opts.WaitCeiling,
		logger:   opts.Logger,
	}
	if b.token == nil {
		b.token = NewToken()
	}
	if b.ceiling <= 0 {
		b.ceiling = DefaultWaitCeiling
	}
	if b.logger == nil {
		b.logger = log.WithComponent("sandbox")
	}

	b.values = generalBuiltins()
	modules := b.bindCapabilities()
	b.bindAliases(modules)
	for cat, members := range modules {
		b.values[string(cat)] = &starlarkstruct.Module{Name: string(cat), Members: members}
	}
	b.bindWait()
	b.values["print"] = starlark.NewBuiltin("print", b.print)

	return &Namespace{values: b.values}
}

func (b *nsBuilder) bindCapabilities() map[hal.Category]starlark.StringDict {
	modules := make(map[hal.Category]starlark.StringDict)
	if b.provider == nil {
		return modules
	}
	for _, spec := range hal.Catalog() {
		c, ok := b.provider.Lookup(spec.Name)
		if !ok || c.Call == nil {
			continue
		}
		fn := b.capability(c)
		b.values[spec.Name] = fn
		if modules[c.Category] == nil {
			modules[c.Category] = make(starlark.StringDict)
		}
		modules[c.Category][spec.Name] = fn
	}
	return modules
}

// bindAliases binds each alias to the very builtin of its target, so alias
// and canonical name are indistinguishable to a script.
func (b *nsBuilder) bindAliases(modules map[hal.Category]starlark.StringDict) {
	for _, a := range hal.Aliases() {
		target, ok := b.values[a.Target]
		if !ok {
			continue
		}
		b.values[a.Name] = target
		spec, _ := hal.SpecFor(a.Target)
		if members := modules[spec.Category]; members != nil {
			members[a.Name] = target
		}
	}
}

func (b *nsBuilder) capability(c hal.Capability) *starlark.Builtin {
	logger := b.logger.With("capability", c.Name)
	return starlark.NewBuiltin(c.Name, func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if b.token.Interrupted() {
			return nil, b.halt(c)
		}
		goArgs, err := bindArgs(c.Spec, args, kwargs)
		if err != nil {
			return nil, err
		}

		logger.Debug("capability invoked", "args", goArgs)
		result, err := c.Call(b.token.Context(), goArgs)

		// An interrupt that landed while the call was in flight must not
		// leave its actuation standing.
		if b.token.Interrupted() {
			return nil, b.halt(c)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name(), err)
		}
		return toStarlark(result)
	})
}

func (b *nsBuilder) halt(c hal.Capability) error {
	if c.Category.Actuates() && b.provider != nil {
		if err := b.provider.Stop(); err != nil {
			b.logger.Error("stop after interrupt failed", "capability", c.Name, "error", err)
		}
	}
	return ErrInterrupted
}

func (b *nsBuilder) bindWait() {
	wait := starlark.NewBuiltin("dengdai", b.wait)
	b.values["dengdai"] = wait
	b.values["wait"] = wait
	b.values["等待"] = wait
	b.values["time"] = &starlarkstruct.Module{
		Name: "time",
		Members: starlark.StringDict{
			"sleep": wait,
			"time": starlark.NewBuiltin("time", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
					return nil, err
				}
				return starlark.Float(float64(time.Now().UnixNano()) / 1e9), nil
			}),
		},
	}
}

// wait blocks for the requested seconds, clamped to [0, ceiling], and returns
// early with ErrInterrupted when the token trips.
func (b *nsBuilder) wait(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var secs starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &secs); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(secs)
	if !ok || math.IsNaN(f) {
		return nil, fmt.Errorf("%s: got %s, want number of seconds", fn.Name(), secs.Type())
	}
	d := clampWait(f, b.ceiling)
	if f > b.ceiling.Seconds() {
		b.logger.Debug("wait clamped", "requested_s", f, "ceiling", b.ceiling)
	}

	if b.token.Interrupted() {
		return nil, ErrInterrupted
	}
	if d == 0 {
		return starlark.None, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return starlark.None, nil
	case <-b.token.Done():
		return nil, ErrInterrupted
	}
}

func clampWait(secs float64, ceiling time.Duration) time.Duration {
	if secs <= 0 {
		return 0
	}
	if secs >= ceiling.Seconds() {
		return ceiling
	}
	return time.Duration(secs * float64(time.Second))
}

func (b *nsBuilder) print(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sep := " "
	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		if name != "sep" {
			return nil, fmt.Errorf("%s: unexpected keyword argument %s", fn.Name(), name)
		}
		s, ok := starlark.AsString(kv[1])
		if !ok {
			return nil, fmt.Errorf("%s: sep must be a string, not %s", fn.Name(), kv[1].Type())
		}
		sep = s
	}

	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := starlark.AsString(a); ok {
			parts[i] = s
		} else {
			parts[i] = a.String()
		}
	}
	if b.sink != nil && !b.token.Interrupted() {
		b.sink.Emit(strings.Join(parts, sep))
	}
	return starlark.None, nil
}
