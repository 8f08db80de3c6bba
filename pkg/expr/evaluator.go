// Package expr defines the guard-expression evaluator port consumed by the
// evaluation and governance layers, plus its CEL implementation. The core
// treats expressions as opaque strings; only this package interprets them.
package expr

import "fmt"

// ErrorKind classifies expression failures.
type ErrorKind string

const (
	ErrParse          ErrorKind = "parse"
	ErrType           ErrorKind = "type"
	ErrMissingBinding ErrorKind = "missing-binding"
)

// Error is a structured expression failure. It is fatal for the guard or
// rule that carried the expression, never for the cycle.
type Error struct {
	Kind       ErrorKind
	Expression string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("expression %s error in %q: %v", e.Kind, e.Expression, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result carries the evaluated value plus any raw outputs the evaluator
// exposes for downstream guards.
type Result struct {
	Value any            `json:"value"`
	Raw   map[string]any `json:"raw,omitempty"`
}

// Evaluator evaluates guard and rule expressions against flattened context
// bindings. Implementations must be safe for concurrent use.
type Evaluator interface {
	// Evaluate runs the expression. A failed evaluation returns *Error.
	Evaluate(expression string, bindings map[string]any) (Result, error)
	// Parse dry-parses the expression without evaluating, for design-time
	// validation of graph documents.
	Parse(expression string) error
}

// Truthy interprets an expression value as a guard outcome: booleans as
// themselves, non-empty strings, non-zero numbers.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}
