// Package jsruntime evaluates sandboxed JavaScript expressions against JSON
// payloads. The record platform uses it for calculated fields: each
// expression receives the normalized record payload as `record` and must
// produce a JSON-representable value.
package jsruntime

import (
	"context"
	"net/http"
	"time"

	"github.com/dop251/goja"
	json "github.com/json-iterator/go"

	"github.com/recordum/recordum/internal/common/apperrors"
)

var (
	ErrInvalidExpression  apperrors.Error = apperrors.New("invalid expression").SetStatusCode(http.StatusBadRequest)
	ErrExecutionError     apperrors.Error = apperrors.New("expression execution error").SetStatusCode(http.StatusBadRequest)
	ErrExecutionTimeout   apperrors.Error = ErrExecutionError.New("expression execution timed out")
	ErrResultNotJSONValue apperrors.Error = ErrExecutionError.New("expression result is not a JSON value")
)

// DefaultTimeout bounds a single expression evaluation.
const DefaultTimeout = 500 * time.Millisecond

// Expr is a compiled expression. Compilation happens once per published
// schema version; evaluation runs on a fresh VM per call to isolate state.
type Expr struct {
	src     string
	program *goja.Program
}

// Options control expression evaluation.
type Options struct {
	Timeout time.Duration
}

// Compile parses and compiles an expression. The source must be a single
// JavaScript expression, e.g. `record.quantity * record.unit_price`.
func Compile(src string) (*Expr, apperrors.Error) {
	if src == "" {
		return nil, ErrInvalidExpression.Msg("expression is empty")
	}
	program, err := goja.Compile("expr", "("+src+")", true)
	if err != nil {
		return nil, ErrInvalidExpression.Err(err)
	}
	return &Expr{src: src, program: program}, nil
}

// Source returns the original expression source.
func (e *Expr) Source() string {
	return e.src
}

// Eval runs the expression against the given payload and returns the result
// as a decoded JSON value (nil, bool, float64, string, []any, map[string]any).
func (e *Expr) Eval(ctx context.Context, payload []byte, opts Options) (any, apperrors.Error) {
	vm := goja.New()
	bindConsole(vm)

	var record any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, ErrExecutionError.Msg("invalid payload").Err(err)
		}
	}
	if err := vm.Set("record", record); err != nil {
		return nil, ErrExecutionError.Err(err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-evalCtx.Done():
			vm.Interrupt("timeout")
		case <-done:
		}
	}()

	v, err := vm.RunProgram(e.program)
	close(done)
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return nil, ErrExecutionTimeout
		}
		return nil, ErrExecutionError.Err(err)
	}

	exported := v.Export()
	// Round-trip through JSON to flatten goja-specific types and reject
	// non-serializable results such as functions.
	out, jerr := json.Marshal(exported)
	if jerr != nil {
		return nil, ErrResultNotJSONValue.Err(jerr)
	}
	var result any
	if jerr := json.Unmarshal(out, &result); jerr != nil {
		return nil, ErrResultNotJSONValue.Err(jerr)
	}
	return result, nil
}
