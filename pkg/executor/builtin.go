package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/runtime"
)

// Handler is a system-invocation function bound to one handler ref.
type Handler func(ctx context.Context, params map[string]any, rctx runtime.Context) (map[string]any, error)

// SystemInvocationExecutor dispatches SYSTEM_INVOCATION actions to
// registered handler functions.
type SystemInvocationExecutor struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewSystemInvocationExecutor(logger *slog.Logger) *SystemInvocationExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemInvocationExecutor{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "system_executor"),
	}
}

// Bind registers a handler function under a handler ref.
func (e *SystemInvocationExecutor) Bind(handlerRef string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[handlerRef] = handler
}

func (e *SystemInvocationExecutor) Execute(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context) (contracts.ActionResult, error) {
	e.mu.RLock()
	handler, ok := e.handlers[node.Action.HandlerRef]
	e.mu.RUnlock()
	if !ok {
		return contracts.ActionResult{
			Status: contracts.ActionFailure,
			Error:  fmt.Sprintf("no handler bound for %q", node.Action.HandlerRef),
		}, nil
	}
	output, err := handler(ctx, node.Action.Config.Params, rctx)
	if err != nil {
		e.logger.Warn("handler failed",
			"handler_ref", node.Action.HandlerRef,
			"instance_id", instance.ID,
			"node_id", node.ID,
			"error", err)
		return contracts.ActionResult{
			Status:    contracts.ActionFailure,
			Error:     err.Error(),
			Retryable: true,
		}, nil
	}
	return contracts.ActionResult{Status: contracts.ActionSuccess, Output: output}, nil
}

// TaskSink receives work items that complete out of band. HUMAN_TASK and
// AGENT_ASSISTED actions publish to a sink and report PENDING; a later
// NodeCompleted or Approval event finishes the node.
type TaskSink interface {
	Publish(ctx context.Context, task WorkItem) error
}

// WorkItem is the unit handed to a task sink.
type WorkItem struct {
	InstanceID string         `json:"instance_id"`
	NodeID     string         `json:"node_id"`
	NodeName   string         `json:"node_name"`
	ActionType string         `json:"action_type"`
	HandlerRef string         `json:"handler_ref"`
	Params     map[string]any `json:"params,omitempty"`
}

// PendingTaskExecutor publishes a work item and reports PENDING. It serves
// both HUMAN_TASK and AGENT_ASSISTED actions; the sink decides routing.
type PendingTaskExecutor struct {
	sink   TaskSink
	logger *slog.Logger
}

func NewPendingTaskExecutor(sink TaskSink, logger *slog.Logger) *PendingTaskExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingTaskExecutor{sink: sink, logger: logger.With("component", "pending_executor")}
}

func (e *PendingTaskExecutor) Execute(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context) (contracts.ActionResult, error) {
	item := WorkItem{
		InstanceID: instance.ID,
		NodeID:     node.ID,
		NodeName:   node.Name,
		ActionType: string(node.Action.Type),
		HandlerRef: node.Action.HandlerRef,
		Params:     node.Action.Config.Params,
	}
	if e.sink != nil {
		if err := e.sink.Publish(ctx, item); err != nil {
			return contracts.ActionResult{
				Status:    contracts.ActionFailure,
				Error:     fmt.Sprintf("publish work item: %v", err),
				Retryable: true,
			}, nil
		}
	}
	e.logger.Info("work item published",
		"instance_id", instance.ID, "node_id", node.ID, "action_type", node.Action.Type)
	return contracts.ActionResult{Status: contracts.ActionPending}, nil
}

// MemoryTaskSink collects work items in memory for tests and single-node use.
type MemoryTaskSink struct {
	mu    sync.Mutex
	items []WorkItem
}

func NewMemoryTaskSink() *MemoryTaskSink { return &MemoryTaskSink{} }

func (s *MemoryTaskSink) Publish(_ context.Context, task WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, task)
	return nil
}

// Items returns a copy of the published work items.
func (s *MemoryTaskSink) Items() []WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WorkItem(nil), s.items...)
}

// ChildLauncher starts child process instances for COMPOSITE actions.
type ChildLauncher interface {
	Launch(ctx context.Context, graphID, correlationID string, initial contracts.ExecutionContext) (instanceID string, err error)
}

// CompositeExecutor launches one child instance per child ref and reports
// PENDING; the parent completes when the children emit NodeCompleted events.
type CompositeExecutor struct {
	launcher ChildLauncher
	logger   *slog.Logger
}

func NewCompositeExecutor(launcher ChildLauncher, logger *slog.Logger) *CompositeExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompositeExecutor{launcher: launcher, logger: logger.With("component", "composite_executor")}
}

func (e *CompositeExecutor) Execute(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context) (contracts.ActionResult, error) {
	if len(node.Action.Config.ChildRefs) == 0 {
		return contracts.ActionResult{
			Status: contracts.ActionFailure,
			Error:  "composite action declares no child refs",
		}, nil
	}
	children := make([]string, 0, len(node.Action.Config.ChildRefs))
	for _, ref := range node.Action.Config.ChildRefs {
		childID, err := e.launcher.Launch(ctx, ref, instance.ID, rctx.ExecutionContext)
		if err != nil {
			return contracts.ActionResult{
				Status:    contracts.ActionFailure,
				Error:     fmt.Sprintf("launch child %s: %v", ref, err),
				Retryable: true,
			}, nil
		}
		children = append(children, childID)
	}
	e.logger.Info("child instances launched",
		"instance_id", instance.ID, "node_id", node.ID, "children", len(children))
	return contracts.ActionResult{
		Status: contracts.ActionPending,
		Output: map[string]any{"child_instance_ids": children},
	}, nil
}
