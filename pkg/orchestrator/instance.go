// Package orchestrator drives process instances through their graphs: the
// per-cycle pipeline (assemble, evaluate, decide, govern, dispatch, trace)
// and the event loop that serializes cycles per instance.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/eval"
	"github.com/pathwise-io/pathwise/pkg/executor"
	"github.com/pathwise-io/pathwise/pkg/governance"
	"github.com/pathwise-io/pathwise/pkg/graph"
	"github.com/pathwise-io/pathwise/pkg/navigation"
	"github.com/pathwise-io/pathwise/pkg/runtime"
	"github.com/pathwise-io/pathwise/pkg/store"
	"github.com/pathwise-io/pathwise/pkg/trace"
)

// EventSink receives the events a cycle emits: completions, failures and
// the domain events nodes declare.
type EventSink interface {
	Emit(ctx context.Context, event contracts.Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, event contracts.Event) error

func (f EventSinkFunc) Emit(ctx context.Context, event contracts.Event) error { return f(ctx, event) }

// InstanceConfig tunes per-cycle behavior.
type InstanceConfig struct {
	// MaxRetries bounds retry attempts for a failed node when the traversed
	// edge does not set its own budget.
	MaxRetries int
	// EscalationTimeout is the deadline attached to obligations created by
	// ESCALATE compensation.
	EscalationTimeout time.Duration
}

// InstanceOrchestrator runs one orchestration cycle for one instance.
// Callers serialize cycles per instance; the orchestrator itself holds no
// instance locks.
type InstanceOrchestrator struct {
	graphs      store.GraphRepository
	instances   store.InstanceRepository
	assembler   *runtime.Assembler
	eligibility *eval.EligibilityEvaluator
	decider     *navigation.Decider
	governor    *governance.Governor
	registry    *executor.Registry
	tracer      *trace.Tracer
	sink        EventSink
	deps        *contracts.DependencyConstraints
	cfg         InstanceConfig
	logger      *slog.Logger
	clock       func() time.Time
}

func NewInstanceOrchestrator(
	graphs store.GraphRepository,
	instances store.InstanceRepository,
	assembler *runtime.Assembler,
	eligibility *eval.EligibilityEvaluator,
	decider *navigation.Decider,
	governor *governance.Governor,
	registry *executor.Registry,
	tracer *trace.Tracer,
	sink EventSink,
	cfg InstanceConfig,
	logger *slog.Logger,
) *InstanceOrchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.EscalationTimeout <= 0 {
		cfg.EscalationTimeout = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InstanceOrchestrator{
		graphs:      graphs,
		instances:   instances,
		assembler:   assembler,
		eligibility: eligibility,
		decider:     decider,
		governor:    governor,
		registry:    registry,
		tracer:      tracer,
		sink:        sink,
		cfg:         cfg,
		logger:      logger.With("component", "orchestrator"),
		clock:       time.Now,
	}
}

// WithConstraints sets the dependency constraints applied during selection.
func (o *InstanceOrchestrator) WithConstraints(deps *contracts.DependencyConstraints) *InstanceOrchestrator {
	o.deps = deps
	return o
}

// WithClock overrides the clock for tests.
func (o *InstanceOrchestrator) WithClock(clock func() time.Time) *InstanceOrchestrator {
	o.clock = clock
	return o
}

// StartInstance creates a RUNNING instance for the graph and runs its entry
// cycle.
func (o *InstanceOrchestrator) StartInstance(ctx context.Context, graphID, version, correlationID string, initial contracts.ExecutionContext) (*contracts.ProcessInstance, contracts.OrchestrationResult, error) {
	var (
		def *contracts.GraphDef
		err error
	)
	if version == "" {
		def, err = o.graphs.GetLatest(ctx, graphID)
	} else {
		def, err = o.graphs.Get(ctx, graphID, version)
	}
	if err != nil {
		return nil, contracts.OrchestrationResult{}, contracts.WrapError(contracts.KindGraphNotFound,
			fmt.Sprintf("graph %s@%s", graphID, version), err)
	}

	instance := contracts.NewProcessInstance(def.ID, def.Version, correlationID, initial)
	if err := o.instances.Save(ctx, instance); err != nil {
		return nil, contracts.OrchestrationResult{}, fmt.Errorf("save new instance: %w", err)
	}

	result, err := o.cycle(ctx, instance, graph.New(*def), nil, true)
	return instance, result, err
}

// Orchestrate runs one full cycle for an existing instance, optionally
// triggered by an event. The instance is mutated and saved.
func (o *InstanceOrchestrator) Orchestrate(ctx context.Context, instance *contracts.ProcessInstance, trigger *contracts.Event) (contracts.OrchestrationResult, error) {
	def, err := o.graphs.Get(ctx, instance.GraphID, instance.GraphVersion)
	if err != nil {
		return contracts.OrchestrationResult{}, contracts.WrapError(contracts.KindGraphNotFound,
			fmt.Sprintf("graph %s@%s", instance.GraphID, instance.GraphVersion), err)
	}
	return o.cycle(ctx, instance, graph.New(*def), trigger, false)
}

// ReevaluateAfterEvent applies the event's direct effects to the instance
// and then runs a cycle with the event as trigger.
func (o *InstanceOrchestrator) ReevaluateAfterEvent(ctx context.Context, instance *contracts.ProcessInstance, event contracts.Event) (contracts.OrchestrationResult, error) {
	o.applyEvent(instance, event)
	return o.Orchestrate(ctx, instance, &event)
}

// applyEvent folds an inbound event into instance state before evaluation:
// completions and failures close their RUNNING records, approvals resolve
// waiting human tasks, and every event enters the history.
func (o *InstanceOrchestrator) applyEvent(instance *contracts.ProcessInstance, event contracts.Event) {
	now := o.clock()
	switch event.Type {
	case contracts.EventNodeCompleted:
		if event.NodeID != "" && instance.IsActiveNode(event.NodeID) {
			result, _ := event.Payload["result"].(map[string]any)
			if err := instance.CompleteNodeExecution(event.NodeID, result, now); err != nil {
				o.logger.Warn("completion event for non-running node",
					"instance_id", instance.ID, "node_id", event.NodeID, "error", err)
			}
		}
	case contracts.EventNodeFailed:
		if event.NodeID != "" && instance.IsActiveNode(event.NodeID) {
			msg, _ := event.Payload["error_message"].(string)
			if err := instance.FailNodeExecution(event.NodeID, msg, now); err != nil {
				o.logger.Warn("failure event for non-running node",
					"instance_id", instance.ID, "node_id", event.NodeID, "error", err)
			}
		}
	case contracts.EventApproval:
		// Both decisions close the task; the recorded decision lands in the
		// entity compartment so edge guards route the outcome.
		if event.NodeID != "" && instance.IsActiveNode(event.NodeID) {
			switch event.ApprovalDecision() {
			case contracts.ApprovalApproved, contracts.ApprovalRejected:
				_ = instance.CompleteNodeExecution(event.NodeID, event.Payload, now)
			}
		}
	}
	instance.Context.RecordEvent(event)
}

// cycle is the full pipeline: assemble, evaluate, decide, govern, dispatch,
// trace, persist. Exactly one trace is recorded per call.
func (o *InstanceOrchestrator) cycle(ctx context.Context, instance *contracts.ProcessInstance, g *graph.Graph, trigger *contracts.Event, entryOnly bool) (contracts.OrchestrationResult, error) {
	if instance.IsTerminal() {
		return contracts.OrchestrationResult{
			Status: contracts.CycleCompleted,
			Reason: "instance is " + string(instance.Status),
		}, nil
	}

	tenantID, _ := instance.Context.Client["tenant_id"].(string)
	rctx := o.assembler.Assemble(ctx, instance, tenantID, trigger)

	if instance.Status == contracts.InstanceSuspended {
		tr := o.newTrace(instance, rctx, contracts.TraceWait, contracts.OutcomeWaiting)
		tr.OutcomeDetail = "instance suspended"
		o.tracer.Record(ctx, tr)
		return contracts.Waiting(tr.ID, "instance suspended"), o.save(ctx, instance)
	}

	var space contracts.EligibleSpace
	if entryOnly {
		space = o.eligibility.EvaluateEntry(instance, g, rctx)
	} else {
		space = o.eligibility.Evaluate(instance, g, rctx)
	}
	for _, edgeID := range space.PendingJoinEdgeIDs {
		instance.AddPendingEdge(edgeID)
	}

	decision := o.decider.Select(space, instance, g, o.deps)

	switch decision.Type {
	case contracts.DecisionComplete:
		return o.completeInstance(ctx, instance, rctx, decision)
	case contracts.DecisionWait:
		tr := o.newTrace(instance, rctx, contracts.TraceWait, contracts.OutcomeWaiting)
		tr.Decision = &decision
		tr.Evaluation = evaluationSnapshot(space)
		tr.OutcomeDetail = decision.Reason
		o.tracer.Record(ctx, tr)
		return contracts.Waiting(tr.ID, decision.Reason), o.save(ctx, instance)
	}

	return o.dispatch(ctx, instance, g, rctx, space, decision)
}

func (o *InstanceOrchestrator) completeInstance(ctx context.Context, instance *contracts.ProcessInstance, rctx runtime.Context, decision contracts.NavigationDecision) (contracts.OrchestrationResult, error) {
	now := o.clock()
	if err := instance.MarkCompleted(now); err != nil {
		return contracts.OrchestrationResult{}, err
	}
	tr := o.newTrace(instance, rctx, contracts.TraceNavigation, contracts.OutcomeCompleted)
	tr.Decision = &decision
	tr.OutcomeDetail = decision.Reason
	o.tracer.Record(ctx, tr)
	o.logger.Info("instance completed", "instance_id", instance.ID, "graph_id", instance.GraphID)
	result := contracts.Completed(tr.ID)
	result.Decision = &decision
	return result, o.save(ctx, instance)
}

// dispatch runs governance and execution for every selected action. One
// EXECUTION trace covers the whole cycle.
func (o *InstanceOrchestrator) dispatch(ctx context.Context, instance *contracts.ProcessInstance, g *graph.Graph, rctx runtime.Context, space contracts.EligibleSpace, decision contracts.NavigationDecision) (contracts.OrchestrationResult, error) {
	var (
		executed     []string
		lastGov      *contracts.GovernanceResult
		firstDeny    string
		firstFailure string
	)

	for _, action := range decision.Selected {
		node, ok := g.Node(action.NodeID)
		if !ok {
			o.logger.Error("selected node missing from graph",
				"instance_id", instance.ID, "node_id", action.NodeID)
			continue
		}

		gov := o.governor.Enforce(ctx, &node, instance, rctx)
		lastGov = &gov
		if !gov.Approved {
			if firstDeny == "" {
				firstDeny = gov.Reason
			}
			o.logger.Warn("dispatch denied",
				"instance_id", instance.ID, "node_id", action.NodeID, "reason", gov.Reason)
			continue
		}

		if action.EdgeID != "" {
			instance.RemovePendingEdge(action.EdgeID)
		}
		failure, err := o.execute(ctx, instance, g, rctx, &node, action)
		if err != nil {
			return contracts.OrchestrationResult{}, err
		}
		executed = append(executed, action.NodeID)
		if failure != "" && firstFailure == "" {
			firstFailure = failure
		}
	}

	traceType := contracts.TraceExecution
	outcome := contracts.OutcomeExecuted
	detail := ""
	status := contracts.CycleExecuted
	switch {
	case len(executed) == 0:
		traceType = contracts.TraceBlocked
		outcome = contracts.OutcomeBlocked
		detail = firstDeny
		status = contracts.CycleBlocked
	case firstFailure != "":
		// A failed action dominates the cycle's trace; a terminal failure
		// also fails the cycle result.
		outcome = contracts.OutcomeFailed
		detail = firstFailure
		if instance.Status == contracts.InstanceFailed {
			status = contracts.CycleFailed
		}
	}

	// Reaching a terminal node completes the instance in the same cycle.
	completedInstance := false
	if !instance.IsTerminal() && len(executed) > 0 {
		for _, nodeID := range executed {
			if g.IsTerminalNode(nodeID) && instance.HasExecutedNode(nodeID) {
				if err := instance.MarkCompleted(o.clock()); err == nil {
					completedInstance = true
				}
				break
			}
		}
	}

	tr := o.newTrace(instance, rctx, traceType, outcome)
	tr.Decision = &decision
	tr.Governance = lastGov
	tr.Evaluation = evaluationSnapshot(space)
	tr.OutcomeDetail = detail
	if len(executed) == 1 {
		tr.NodeID = executed[0]
	}
	o.tracer.Record(ctx, tr)

	if err := o.save(ctx, instance); err != nil {
		return contracts.OrchestrationResult{}, err
	}

	result := contracts.OrchestrationResult{
		Status:          status,
		TraceID:         tr.ID,
		ExecutedNodeIDs: executed,
		Decision:        &decision,
	}
	if completedInstance {
		result.Status = contracts.CycleCompleted
	}
	result.Reason = detail
	return result, nil
}

// execute starts the node, runs its executor and settles the outcome. The
// first return carries the action's error message when it failed, so the
// cycle trace can surface it.
func (o *InstanceOrchestrator) execute(ctx context.Context, instance *contracts.ProcessInstance, g *graph.Graph, rctx runtime.Context, node *contracts.Node, action contracts.CandidateAction) (string, error) {
	started := o.clock()
	if err := instance.StartNodeExecution(node.ID, started); err != nil {
		return "", err
	}

	result, execErr := o.registry.Execute(ctx, node, instance, rctx)
	if execErr != nil {
		o.logger.Warn("executor fault",
			"instance_id", instance.ID, "node_id", node.ID, "error", execErr)
	}

	switch result.Status {
	case contracts.ActionSuccess:
		if err := instance.CompleteNodeExecution(node.ID, result.Output, o.clock()); err != nil {
			return "", err
		}
		if err := o.governor.RecordExecution(ctx, node, instance, rctx, result.Status); err != nil {
			o.logger.Error("execution key not recorded",
				"instance_id", instance.ID, "node_id", node.ID, "error", err)
		}
		o.emit(ctx, contracts.NewNodeCompleted(instance.ID, node.ID, result.Output, o.clock().Sub(started)))
		for _, eventType := range node.Events.Emits {
			o.emit(ctx, contracts.NewDomainEvent(eventType, instance.CorrelationID, node.ID, result.Output))
		}
		return "", nil

	case contracts.ActionPending:
		// The node stays RUNNING until a NodeCompleted or Approval event
		// closes it.
		o.logger.Info("action pending",
			"instance_id", instance.ID, "node_id", node.ID, "action_type", node.Action.Type)
		return "", nil

	default:
		reason := result.Error
		if reason == "" {
			reason = "action failed"
		}
		return reason, o.handleFailure(ctx, instance, g, node, action, result)
	}
}

// handleFailure settles a FAILED action according to the traversed edge's
// compensation strategy and the node's exception routes.
func (o *InstanceOrchestrator) handleFailure(ctx context.Context, instance *contracts.ProcessInstance, g *graph.Graph, node *contracts.Node, action contracts.CandidateAction, result contracts.ActionResult) error {
	now := o.clock()

	compensation := contracts.Compensation{Strategy: contracts.CompensationRetry}
	if action.EdgeID != "" {
		if edge, ok := g.Edge(action.EdgeID); ok && edge.Compensation.Strategy != "" {
			compensation = edge.Compensation
		}
	}
	budget := compensation.MaxRetries
	if budget <= 0 {
		budget = o.cfg.MaxRetries
	}
	attempts := instance.RetryAttempts(node.ID) + 1

	retryable := result.Retryable &&
		compensation.Strategy == contracts.CompensationRetry &&
		attempts <= budget
	o.emit(ctx, contracts.NewNodeFailed(instance.ID, node.ID, string(contracts.KindActionFailed),
		result.Error, attempts, retryable))
	if retryable {
		// The record settles as RETRYING, not FAILED: the budget counts
		// retried attempts and the node stays eligible for redispatch.
		if err := instance.RetryNodeExecution(node.ID, result.Error, now); err != nil {
			return err
		}
		o.logger.Info("node failed, retry scheduled",
			"instance_id", instance.ID, "node_id", node.ID, "attempt", attempts, "budget", budget)
		return nil
	}

	if err := instance.FailNodeExecution(node.ID, result.Error, now); err != nil {
		return err
	}

	switch compensation.Strategy {
	case contracts.CompensationEscalate:
		// An obligation with a deadline; the periodic sweep synthesizes a
		// TimerExpired event if nobody resolves it in time.
		instance.Context.Operational.Obligations = append(instance.Context.Operational.Obligations,
			contracts.Obligation{
				ID:       fmt.Sprintf("escalation-%s-%d", node.ID, attempts),
				Deadline: now.Add(o.cfg.EscalationTimeout),
			})
		o.logger.Warn("node failure escalated",
			"instance_id", instance.ID, "node_id", node.ID, "deadline", now.Add(o.cfg.EscalationTimeout))
		return nil
	case contracts.CompensationCompensate:
		if compensation.TargetNodeID != "" {
			return o.runCompensation(ctx, instance, g, compensation.TargetNodeID)
		}
	}

	// Exception routes recover by dispatching the route target.
	for _, route := range node.ExceptionRoutes {
		if route.ErrorKind == contracts.KindActionFailed || route.ErrorKind == contracts.KindUnknown {
			return o.runCompensation(ctx, instance, g, route.TargetNodeID)
		}
	}

	o.logger.Error("node failed with no recovery",
		"instance_id", instance.ID, "node_id", node.ID, "attempts", attempts)
	if err := instance.MarkFailed(now); err != nil {
		return err
	}
	return nil
}

// runCompensation dispatches a recovery node outside normal selection. The
// recovery node still passes governance.
func (o *InstanceOrchestrator) runCompensation(ctx context.Context, instance *contracts.ProcessInstance, g *graph.Graph, targetNodeID string) error {
	node, ok := g.Node(targetNodeID)
	if !ok {
		return contracts.NewError(contracts.KindNodeNotFound, "compensation target "+targetNodeID)
	}
	tenantID, _ := instance.Context.Client["tenant_id"].(string)
	rctx := o.assembler.Assemble(ctx, instance, tenantID, nil)

	gov := o.governor.Enforce(ctx, &node, instance, rctx)
	if !gov.Approved {
		o.logger.Warn("compensation denied",
			"instance_id", instance.ID, "node_id", targetNodeID, "reason", gov.Reason)
		return instance.MarkFailed(o.clock())
	}
	_, err := o.execute(ctx, instance, g, rctx, &node, contracts.CandidateAction{NodeID: targetNodeID})
	return err
}

func (o *InstanceOrchestrator) emit(ctx context.Context, event contracts.Event) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Emit(ctx, event); err != nil {
		o.logger.Error("event emission failed",
			"event_type", event.Type, "instance_id", event.InstanceID, "error", err)
	}
}

func (o *InstanceOrchestrator) save(ctx context.Context, instance *contracts.ProcessInstance) error {
	if err := o.instances.Save(ctx, instance); err != nil {
		return fmt.Errorf("save instance %s: %w", instance.ID, err)
	}
	return nil
}

func (o *InstanceOrchestrator) newTrace(instance *contracts.ProcessInstance, rctx runtime.Context, traceType contracts.TraceType, outcome contracts.TraceOutcome) *contracts.DecisionTrace {
	snapshot := contracts.ContextSnapshot{
		TenantID:    rctx.TenantID,
		Fingerprint: rctx.Fingerprint(nil),
		SystemState: rctx.Operational.SystemState,
		EventCount:  len(rctx.EventHistory),
	}
	for nodeID := range rctx.EntityState {
		snapshot.EntityNodeIDs = append(snapshot.EntityNodeIDs, nodeID)
	}
	if rctx.TriggeringEvent != nil {
		snapshot.TriggeringEvent = string(rctx.TriggeringEvent.HistoryType())
	}
	return &contracts.DecisionTrace{
		InstanceID: instance.ID,
		Type:       traceType,
		Timestamp:  o.clock(),
		Context:    snapshot,
		Outcome:    outcome,
	}
}

func evaluationSnapshot(space contracts.EligibleSpace) contracts.EvaluationSnapshot {
	snap := contracts.EvaluationSnapshot{}
	snap.Nodes = append(snap.Nodes, space.EligibleNodes...)
	snap.Nodes = append(snap.Nodes, space.RejectedNodes...)
	snap.Edges = append(snap.Edges, space.TraversableEdges...)
	snap.Edges = append(snap.Edges, space.RejectedEdges...)
	return snap
}
