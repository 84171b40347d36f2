package sandbox

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/zeebo/blake3"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ScriptFilename is the file name reported in positions and backtraces.
const ScriptFilename = "script.py"

// fileOptions enables the Python-like control flow the block editor emits
// and keeps recursion and sets off.
var fileOptions = &syntax.FileOptions{
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// forbidden names are rejected even though no namespace binds them, so that
// a script reaching for them fails before it moves the vehicle.
var forbidden = map[string]bool{
	"open": true, "eval": true, "exec": true, "compile": true, "input": true,
	"getattr": true, "setattr": true, "delattr": true, "hasattr": true,
	"globals": true, "locals": true, "vars": true, "dir": true, "type": true,
	"object": true, "super": true, "memoryview": true, "breakpoint": true,
	"exit": true, "quit": true, "help": true, "load": true,
	"os": true, "sys": true, "subprocess": true, "socket": true,
	"threading": true, "shutil": true, "importlib": true, "builtins": true,
}

// CompileOptions bounds what Compile accepts.
type CompileOptions struct {
	// MaxSourceBytes rejects larger sources. Zero means unbounded.
	MaxSourceBytes int
}

// Unit is a compiled script. It may be run by exactly one execution.
type Unit struct {
	program   *starlark.Program
	digest    string
	freeNames []string
	empty     bool
	claimed   atomic.Bool
}

// Digest returns the hex BLAKE3 digest of the source.
func (u *Unit) Digest() string { return u.digest }

// FreeNames lists, sorted, every name the script expects its namespace to supply.
func (u *Unit) FreeNames() []string {
	out := make([]string, len(u.freeNames))
	copy(out, u.freeNames)
	return out
}

// Empty reports whether the script has no statements.
func (u *Unit) Empty() bool { return u.empty }

func (u *Unit) claim() error {
	if !u.claimed.CompareAndSwap(false, true) {
		return errors.New("compiled unit already executed")
	}
	return nil
}

// run executes the unit's top level against ns on thread.
func (u *Unit) run(thread *starlark.Thread, ns *Namespace) error {
	if err := u.claim(); err != nil {
		return err
	}
	_, err := u.program.Init(thread, ns.values)
	return err
}

// Compile parses and checks source. Any rejection is a *CompileError.
func Compile(source string, opts CompileOptions) (*Unit, error) {
	if opts.MaxSourceBytes > 0 && len(source) > opts.MaxSourceBytes {
		return nil, &CompileError{
			Reason: fmt.Sprintf("script is %d bytes, limit is %d", len(source), opts.MaxSourceBytes),
		}
	}

	f, err := fileOptions.Parse(ScriptFilename, source, 0)
	if err != nil {
		return nil, compileError(err)
	}

	// Every free name is predeclared; the namespace decides at run time
	// whether it exists.
	prog, err := starlark.FileProgram(f, func(string) bool { return true })
	if err != nil {
		return nil, compileError(err)
	}

	names, err := checkPolicy(f)
	if err != nil {
		return nil, err
	}

	sum := blake3.Sum256([]byte(source))
	return &Unit{
		program:   prog,
		digest:    hex.EncodeToString(sum[:]),
		freeNames: names,
		empty:     len(f.Stmts) == 0,
	}, nil
}

// checkPolicy walks the resolved syntax tree for constructs the grammar
// allows but scripts may not use, and collects the free names.
func checkPolicy(f *syntax.File) ([]string, error) {
	var violation *CompileError
	free := make(map[string]bool)

	reject := func(pos syntax.Position, format string, args ...any) {
		if violation == nil {
			violation = &CompileError{
				Reason: fmt.Sprintf(format, args...),
				Line:   int(pos.Line),
				Col:    int(pos.Col),
			}
		}
	}

	syntax.Walk(f, func(n syntax.Node) bool {
		if violation != nil {
			return false
		}
		switch n := n.(type) {
		case *syntax.LoadStmt:
			reject(n.Load, "load statements are not allowed")
		case *syntax.DotExpr:
			if strings.HasPrefix(n.Name.Name, "_") {
				reject(n.Name.NamePos, "access to attribute %q is not allowed", n.Name.Name)
			}
		case *syntax.Ident:
			// Attribute names and keyword argument names carry no binding.
			bind, _ := n.Binding.(*resolve.Binding)
			if bind == nil {
				break
			}
			if strings.HasPrefix(n.Name, "__") {
				reject(n.NamePos, "use of %q is not allowed", n.Name)
			} else if bind.Scope == resolve.Predeclared {
				if forbidden[n.Name] {
					reject(n.NamePos, "use of %q is not allowed", n.Name)
				}
				free[n.Name] = true
			}
		}
		return violation == nil
	})
	if violation != nil {
		return nil, violation
	}

	names := make([]string, 0, len(free))
	for name := range free {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func compileError(err error) *CompileError {
	var se syntax.Error
	if errors.As(err, &se) {
		return &CompileError{Reason: se.Msg, Line: int(se.Pos.Line), Col: int(se.Pos.Col)}
	}
	var list resolve.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return &CompileError{Reason: first.Msg, Line: int(first.Pos.Line), Col: int(first.Pos.Col)}
	}
	return &CompileError{Reason: err.Error()}
}
