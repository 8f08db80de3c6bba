package contracts

import "time"

// TraceType classifies a decision trace by what the cycle did.
type TraceType string

const (
	TraceNavigation TraceType = "NAVIGATION"
	TraceExecution  TraceType = "EXECUTION"
	TraceWait       TraceType = "WAIT"
	TraceBlocked    TraceType = "BLOCKED"
)

// TraceOutcome is the recorded result of the cycle.
type TraceOutcome string

const (
	OutcomeExecuted  TraceOutcome = "EXECUTED"
	OutcomeWaiting   TraceOutcome = "WAITING"
	OutcomeBlocked   TraceOutcome = "BLOCKED"
	OutcomeFailed    TraceOutcome = "FAILED"
	OutcomeCompleted TraceOutcome = "COMPLETED"
)

// ContextSnapshot condenses the runtime context at decision time. The full
// compartments are not persisted; the fingerprint makes the snapshot
// reproducibly comparable.
type ContextSnapshot struct {
	TenantID        string      `json:"tenant_id,omitempty"`
	Fingerprint     string      `json:"fingerprint"`
	SystemState     SystemState `json:"system_state"`
	EntityNodeIDs   []string    `json:"entity_node_ids,omitempty"`
	EventCount      int         `json:"event_count"`
	TriggeringEvent string      `json:"triggering_event,omitempty"`
}

// EvaluationSnapshot keeps the per-node and per-edge results with reasons.
type EvaluationSnapshot struct {
	Nodes []NodeEvaluation `json:"nodes,omitempty"`
	Edges []EdgeEvaluation `json:"edges,omitempty"`
}

// DecisionTrace is the immutable audit record for one orchestration cycle.
type DecisionTrace struct {
	ID            string              `json:"id"`
	InstanceID    string              `json:"instance_id"`
	Type          TraceType           `json:"type"`
	Timestamp     time.Time           `json:"timestamp"`
	Context       ContextSnapshot     `json:"context"`
	Evaluation    EvaluationSnapshot  `json:"evaluation"`
	Decision      *NavigationDecision `json:"decision,omitempty"`
	Governance    *GovernanceResult   `json:"governance,omitempty"`
	Outcome       TraceOutcome        `json:"outcome"`
	OutcomeDetail string              `json:"outcome_detail,omitempty"`
	// NodeID is set on EXECUTION traces for the dispatched node.
	NodeID string `json:"node_id,omitempty"`
}
