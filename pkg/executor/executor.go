// Package executor defines the action-dispatch port and its built-in
// implementations. Executors report failure as a value in the ActionResult;
// an error return is reserved for infrastructure faults.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/runtime"
)

// ActionExecutor performs a node's action.
type ActionExecutor interface {
	Execute(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context) (contracts.ActionResult, error)
}

// ExecutorFunc adapts a function to the ActionExecutor interface.
type ExecutorFunc func(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context) (contracts.ActionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context) (contracts.ActionResult, error) {
	return f(ctx, node, instance, rctx)
}

// Registry resolves executors by (action type, handler ref), with a
// per-type fallback when no ref-specific executor is registered.
type Registry struct {
	mu     sync.RWMutex
	byRef  map[string]ActionExecutor
	byType map[contracts.ActionType]ActionExecutor
}

func NewRegistry() *Registry {
	return &Registry{
		byRef:  make(map[string]ActionExecutor),
		byType: make(map[contracts.ActionType]ActionExecutor),
	}
}

func refKey(actionType contracts.ActionType, handlerRef string) string {
	return string(actionType) + "/" + handlerRef
}

// Register binds an executor to a specific handler ref within a type.
func (r *Registry) Register(actionType contracts.ActionType, handlerRef string, exec ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRef[refKey(actionType, handlerRef)] = exec
}

// RegisterType binds the fallback executor for an action type.
func (r *Registry) RegisterType(actionType contracts.ActionType, exec ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[actionType] = exec
}

// Resolve returns the executor for a node's action spec.
func (r *Registry) Resolve(spec contracts.ActionSpec) (ActionExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if exec, ok := r.byRef[refKey(spec.Type, spec.HandlerRef)]; ok {
		return exec, nil
	}
	if exec, ok := r.byType[spec.Type]; ok {
		return exec, nil
	}
	return nil, contracts.NewError(contracts.KindActionFailed,
		fmt.Sprintf("no executor registered for %s/%s", spec.Type, spec.HandlerRef))
}

// Execute resolves and runs the node's executor, applying the action's
// configured timeout. A deadline hit reports a retryable TIMEOUT failure.
func (r *Registry) Execute(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context) (contracts.ActionResult, error) {
	exec, err := r.Resolve(node.Action)
	if err != nil {
		return contracts.ActionResult{Status: contracts.ActionFailure, Error: err.Error()}, err
	}
	if timeout := node.Action.Config.TimeoutSeconds; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}
	result, err := exec.Execute(ctx, node, instance, rctx)
	if err != nil {
		if ctx.Err() != nil {
			return contracts.ActionResult{
				Status:    contracts.ActionFailure,
				Error:     fmt.Sprintf("action timed out after %ds", node.Action.Config.TimeoutSeconds),
				Retryable: true,
			}, contracts.WrapError(contracts.KindTimeout, "action deadline exceeded", err)
		}
		return contracts.ActionResult{Status: contracts.ActionFailure, Error: err.Error()}, err
	}
	return result, nil
}
