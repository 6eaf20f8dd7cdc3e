// Package eval turns the expression text printed by a probed program into
// live values.
//
// =============================================================================
// TRUST BOUNDARY
// =============================================================================
// Expressions are evaluated by the Yaegi Go interpreter with the full
// standard library (including os and os/exec) available. The text comes
// from the probed program's own console output and is treated as trusted:
// there is no sandbox. Only load logs you produced yourself.
package eval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"github.com/traefik/yaegi/stdlib/unrestricted"

	"kin/internal/logging"
	"kin/internal/ndarray"
)

// ErrEvaluation is wrapped by every error returned from Evaluate.
var ErrEvaluation = errors.New("expression evaluation failed")

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 5 * time.Second

// Import paths under which host packages are exposed to expressions.
const (
	ArrayImportPath   = "kin/internal/ndarray"
	ContextImportPath = "kin/ctx"
)

// Value is one materialized binding.
type Value struct {
	Raw  any
	Kind string
}

func (v Value) String() string {
	if s, ok := v.Raw.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v.Raw)
}

// Evaluator evaluates one expression. Implementations need not be safe
// for concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string) (Value, error)
}

// LookupFunc resolves a name already bound in the loaded context.
type LookupFunc func(name string) (any, bool)

// Options configures an Interpreter.
type Options struct {
	// Script is Go source evaluated once before any expression, e.g.
	// helper funcs or constants the probe's expressions refer to.
	Script     string
	ScriptName string

	// Lookup, when set, is exposed to expressions as ctx.Get(name).
	Lookup LookupFunc

	Timeout        time.Duration
	Stdout, Stderr io.Writer
}

// Interpreter is the Yaegi-backed Evaluator. The ndarray package is
// imported as np and the math package is imported by default.
type Interpreter struct {
	mu      sync.Mutex
	i       *interp.Interpreter
	timeout time.Duration
}

var _ Evaluator = (*Interpreter)(nil)

// ArraySymbols exposes package ndarray to the interpreter.
var ArraySymbols = interp.Exports{
	ArrayImportPath + "/ndarray": {
		"NDArray":  reflect.ValueOf((*ndarray.NDArray)(nil)),
		"Array":    reflect.ValueOf(ndarray.Array),
		"FromInts": reflect.ValueOf(ndarray.FromInts),
		"Zeros":    reflect.ValueOf(ndarray.Zeros),
		"Ones":     reflect.ValueOf(ndarray.Ones),
		"Full":     reflect.ValueOf(ndarray.Full),
		"Arange":   reflect.ValueOf(ndarray.Arange),
	},
}

// New builds an interpreter and runs the optional script.
func New(opts Options) (*Interpreter, error) {
	i := interp.New(interp.Options{
		Stdout:       opts.Stdout,
		Stderr:       opts.Stderr,
		Unrestricted: true,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if err := i.Use(unrestricted.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load unrestricted stdlib: %w", err)
	}
	if err := i.Use(ArraySymbols); err != nil {
		return nil, fmt.Errorf("failed to load ndarray symbols: %w", err)
	}

	imports := []string{`import np "` + ArrayImportPath + `"`, `import "math"`}
	if opts.Lookup != nil {
		lookup := opts.Lookup
		get := func(name string) any {
			v, ok := lookup(name)
			if !ok {
				panic(fmt.Sprintf("ctx: name %q is not bound", name))
			}
			return v
		}
		has := func(name string) bool {
			_, ok := lookup(name)
			return ok
		}
		err := i.Use(interp.Exports{
			ContextImportPath + "/ctx": {
				"Get": reflect.ValueOf(get),
				"Has": reflect.ValueOf(has),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load context symbols: %w", err)
		}
		imports = append(imports, `import ctx "`+ContextImportPath+`"`)
	}
	for _, src := range imports {
		if _, err := i.Eval(src); err != nil {
			return nil, fmt.Errorf("prelude %q: %w", src, err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ip := &Interpreter{i: i, timeout: timeout}

	if strings.TrimSpace(opts.Script) != "" {
		name := opts.ScriptName
		if name == "" {
			name = "script"
		}
		if _, err := ip.eval(context.Background(), opts.Script); err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		logging.Eval("loaded auxiliary script %s (%d bytes)", name, len(opts.Script))
	}
	return ip, nil
}

// Evaluate evaluates expr and returns its value. Panics raised while
// evaluating, including ndarray shape errors, are returned as errors.
func (ip *Interpreter) Evaluate(ctx context.Context, expr string) (Value, error) {
	rv, err := ip.eval(ctx, expr)
	if err != nil {
		return Value{}, err
	}
	if !rv.IsValid() {
		return Value{Kind: "nil"}, nil
	}
	raw := rv.Interface()
	logging.EvalDebug("evaluated %q -> %s", truncate(expr, 80), Describe(raw))
	return Value{Raw: raw, Kind: Describe(raw)}, nil
}

func (ip *Interpreter) eval(ctx context.Context, src string) (rv reflect.Value, err error) {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, ip.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrEvaluation, r)
		}
	}()

	rv, err = ip.i.EvalWithContext(ctx, src)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	return rv, nil
}

// Describe returns the display kind of a value.
func Describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case *ndarray.NDArray:
		return x.Kind()
	case interface{ Kind() string }:
		return x.Kind()
	}
	return reflect.TypeOf(v).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
