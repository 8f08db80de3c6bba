package expr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Binding names declared in the CEL environment. They mirror the flattened
// runtime context produced by pkg/runtime.
var contextVariables = []string{
	"client",
	"domain",
	"entity",
	"operational",
	"events",
	"event",
	"rules",
	"policies",
}

// CELEvaluator evaluates expressions with CEL. Compiled programs are cached
// under a read/write lock with a double check, and every program carries a
// cost limit so a malformed guard cannot stall a cycle.
type CELEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewCELEvaluator creates an evaluator with the runtime-context environment.
func NewCELEvaluator() (*CELEvaluator, error) {
	opts := make([]cel.EnvOption, 0, len(contextVariables))
	for _, name := range contextVariables {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELEvaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Evaluate implements Evaluator.
func (e *CELEvaluator) Evaluate(expression string, bindings map[string]any) (Result, error) {
	prg, err := e.program(expression)
	if err != nil {
		return Result{}, err
	}

	input := make(map[string]any, len(contextVariables))
	for _, name := range contextVariables {
		if v, ok := bindings[name]; ok && v != nil {
			input[name] = v
		} else {
			input[name] = map[string]any{}
		}
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return Result{}, &Error{Kind: classifyEvalError(err), Expression: expression, Err: err}
	}
	return Result{Value: out.Value()}, nil
}

// Parse implements Evaluator.
func (e *CELEvaluator) Parse(expression string) error {
	if _, err := e.compile(expression); err != nil {
		return err
	}
	return nil
}

func (e *CELEvaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expression]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expression]; hit {
		return prg, nil
	}
	ast, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	prg, perr := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if perr != nil {
		return nil, &Error{Kind: ErrParse, Expression: expression, Err: perr}
	}
	e.prgCache[expression] = prg
	return prg, nil
}

func (e *CELEvaluator) compile(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		kind := ErrParse
		if strings.Contains(issues.Err().Error(), "undeclared reference") {
			kind = ErrMissingBinding
		}
		return nil, &Error{Kind: kind, Expression: expression, Err: issues.Err()}
	}
	return ast, nil
}

func classifyEvalError(err error) ErrorKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such key"), strings.Contains(msg, "no such attribute"):
		return ErrMissingBinding
	case strings.Contains(msg, "no such overload"), strings.Contains(msg, "type"):
		return ErrType
	default:
		return ErrType
	}
}
