package sandbox

import (
	"fmt"
	"math"
	"math/big"
	"math/rand/v2"

	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// universeAllowList names the interpreter builtins a script may use.
// Everything else in the Starlark universe stays unreachable.
var universeAllowList = []string{
	"None", "True", "False",
	"abs", "all", "any", "bool", "dict", "enumerate", "float", "hash", "int",
	"len", "list", "max", "min", "range", "repr", "reversed", "sorted", "str",
	"tuple", "zip",
}

// maxPowExponent bounds integer pow so a script cannot allocate unbounded bignums.
const maxPowExponent = 4096

// tokenLocal is the thread-local key holding the execution's Token.
const tokenLocal = "vehicled.token"

// The interpreter only notices cancellation between its own steps, so
// loops implemented in Go look at the token every cancelCheckEvery items.
const cancelCheckEvery = 1024

func checkInterrupted(thread *starlark.Thread, b *starlark.Builtin, i int) error {
	if i%cancelCheckEvery != 0 || thread == nil {
		return nil
	}
	if tok, _ := thread.Local(tokenLocal).(*Token); tok != nil && tok.Interrupted() {
		return fmt.Errorf("%s: %w", b.Name(), ErrInterrupted)
	}
	return nil
}

func generalBuiltins() starlark.StringDict {
	d := make(starlark.StringDict, len(universeAllowList)+8)
	for _, name := range universeAllowList {
		if v, ok := starlark.Universe[name]; ok {
			d[name] = v
		}
	}
	d["sum"] = starlark.NewBuiltin("sum", builtinSum)
	d["pow"] = starlark.NewBuiltin("pow", builtinPow)
	d["round"] = starlark.NewBuiltin("round", builtinRound)
	d["map"] = starlark.NewBuiltin("map", builtinMap)
	d["filter"] = starlark.NewBuiltin("filter", builtinFilter)
	d["math"] = starlarkmath.Module
	d["random"] = randomModule()
	return d
}

func builtinSum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &iterable, &start); err != nil {
		return nil, err
	}
	iter := iterable.Iterate()
	defer iter.Done()

	acc := start
	var x starlark.Value
	for i := 1; iter.Next(&x); i++ {
		if err := checkInterrupted(thread, b, i); err != nil {
			return nil, err
		}
		var err error
		if acc, err = starlark.Binary(syntax.PLUS, acc, x); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return acc, nil
}

func builtinPow(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var base, exp starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &base, &exp); err != nil {
		return nil, err
	}

	bi, baseIsInt := base.(starlark.Int)
	ei, expIsInt := exp.(starlark.Int)
	if baseIsInt && expIsInt && ei.Sign() >= 0 {
		e := ei.BigInt()
		if !e.IsInt64() || e.Int64() > maxPowExponent {
			return nil, fmt.Errorf("%s: exponent too large", b.Name())
		}
		return starlark.MakeBigInt(new(big.Int).Exp(bi.BigInt(), e, nil)), nil
	}

	x, ok1 := starlark.AsFloat(base)
	y, ok2 := starlark.AsFloat(exp)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s: unsupported operand types %s and %s", b.Name(), base.Type(), exp.Type())
	}
	if x == 0 && y < 0 {
		return nil, fmt.Errorf("%s: zero to a negative power", b.Name())
	}
	return starlark.Float(math.Pow(x, y)), nil
}

func builtinRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	var ndigits starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x, &ndigits); err != nil {
		return nil, err
	}
	if i, ok := x.(starlark.Int); ok && ndigits == starlark.None {
		return i, nil
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
	}
	if ndigits == starlark.None {
		r := math.RoundToEven(f)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("%s: cannot round %v to an integer", b.Name(), f)
		}
		return starlark.NumberToInt(starlark.Float(r))
	}
	var n int
	if err := starlark.AsInt(ndigits, &n); err != nil {
		return nil, fmt.Errorf("%s: ndigits: %w", b.Name(), err)
	}
	scale := math.Pow(10, float64(n))
	return starlark.Float(math.RoundToEven(f*scale) / scale), nil
}

func builtinMap(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []starlark.Value
	var x starlark.Value
	for i := 1; iter.Next(&x); i++ {
		if err := checkInterrupted(thread, b, i); err != nil {
			return nil, err
		}
		y, err := starlark.Call(thread, fn, starlark.Tuple{x}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return starlark.NewList(out), nil
}

func builtinFilter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Value
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []starlark.Value
	var x starlark.Value
	for i := 1; iter.Next(&x); i++ {
		if err := checkInterrupted(thread, b, i); err != nil {
			return nil, err
		}
		keep := x
		if fn != starlark.None {
			var err error
			if keep, err = starlark.Call(thread, fn, starlark.Tuple{x}, nil); err != nil {
				return nil, err
			}
		}
		if keep.Truth() {
			out = append(out, x)
		}
	}
	return starlark.NewList(out), nil
}

func randomModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "random",
		Members: starlark.StringDict{
			"random": starlark.NewBuiltin("random", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
					return nil, err
				}
				return starlark.Float(rand.Float64()), nil
			}),
			"randint": starlark.NewBuiltin("randint", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var lo, hi int
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &lo, &hi); err != nil {
					return nil, err
				}
				if hi < lo {
					return nil, fmt.Errorf("%s: empty range (%d, %d)", b.Name(), lo, hi)
				}
				return starlark.MakeInt(lo + rand.IntN(hi-lo+1)), nil
			}),
			"uniform": starlark.NewBuiltin("uniform", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var lo, hi starlark.Value
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &lo, &hi); err != nil {
					return nil, err
				}
				a, ok1 := starlark.AsFloat(lo)
				z, ok2 := starlark.AsFloat(hi)
				if !ok1 || !ok2 {
					return nil, fmt.Errorf("%s: want numbers", b.Name())
				}
				return starlark.Float(a + (z-a)*rand.Float64()), nil
			}),
			"choice": starlark.NewBuiltin("choice", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var seq starlark.Indexable
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seq); err != nil {
					return nil, err
				}
				if seq.Len() == 0 {
					return nil, fmt.Errorf("%s: empty sequence", b.Name())
				}
				return seq.Index(rand.IntN(seq.Len())), nil
			}),
		},
	}
}
