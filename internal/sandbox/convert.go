package sandbox

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"

	"github.com/blockcar/vehicled/internal/hal"
)

// bindArgs matches a call's arguments against spec.Params and converts each
// to the Go type of its Kind, filling defaults.
func bindArgs(spec hal.Spec, args starlark.Tuple, kwargs []starlark.Tuple) ([]any, error) {
	params := spec.Params
	if len(args) > len(params) {
		return nil, fmt.Errorf("%s: got %d arguments, want at most %d", spec.Name, len(args), len(params))
	}

	vals := make([]starlark.Value, len(params))
	copy(vals, args)

	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		idx := -1
		for i, p := range params {
			if p.Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%s: unexpected keyword argument %s", spec.Name, name)
		}
		if vals[idx] != nil {
			return nil, fmt.Errorf("%s: got multiple values for argument %s", spec.Name, name)
		}
		vals[idx] = kv[1]
	}

	out := make([]any, len(params))
	for i, p := range params {
		if vals[i] == nil {
			if p.Required() {
				return nil, fmt.Errorf("%s: missing argument for %s", spec.Name, p.Name)
			}
			out[i] = p.Default
			continue
		}
		v, err := toGo(vals[i], p.Kind)
		if err != nil {
			return nil, fmt.Errorf("%s: for parameter %s: %w", spec.Name, p.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func toGo(v starlark.Value, kind hal.Kind) (any, error) {
	switch kind {
	case hal.KindInt:
		switch x := v.(type) {
		case starlark.Int:
			n, err := starlark.AsInt32(x)
			if err != nil {
				return nil, err
			}
			return n, nil
		case starlark.Float:
			f := float64(x)
			if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
				return nil, fmt.Errorf("number %s out of range", x)
			}
			return int(f), nil
		case starlark.Bool:
			if x {
				return 1, nil
			}
			return 0, nil
		}
	case hal.KindFloat:
		if f, ok := starlark.AsFloat(v); ok {
			return f, nil
		}
	case hal.KindString:
		if s, ok := starlark.AsString(v); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("got %s, want %s", v.Type(), kind)
}

// toStarlark converts a capability result.
func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return x, nil
	case bool:
		return starlark.Bool(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		return starlark.Float(x), nil
	case string:
		return starlark.String(x), nil
	case []bool:
		elems := make([]starlark.Value, len(x))
		for i, b := range x {
			elems[i] = starlark.Bool(b)
		}
		return starlark.NewList(elems), nil
	case []int:
		elems := make([]starlark.Value, len(x))
		for i, n := range x {
			elems[i] = starlark.MakeInt(n)
		}
		return starlark.NewList(elems), nil
	case []string:
		elems := make([]starlark.Value, len(x))
		for i, s := range x {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems), nil
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(x))
		for _, k := range keys {
			sv, err := toStarlark(x[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported capability result type %T", v)
	}
}
