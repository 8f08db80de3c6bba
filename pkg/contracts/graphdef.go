// Package contracts holds the value types shared across the orchestrator:
// graph definitions, instance state, runtime context compartments, events,
// navigation decisions, governance results and decision traces.
package contracts

// GraphStatus is the lifecycle state of a process graph definition.
type GraphStatus string

const (
	GraphDraft      GraphStatus = "DRAFT"
	GraphPublished  GraphStatus = "PUBLISHED"
	GraphDeprecated GraphStatus = "DEPRECATED"
)

// ActionType selects the executor family for a node's action.
type ActionType string

const (
	ActionSystemInvocation ActionType = "SYSTEM_INVOCATION"
	ActionHumanTask        ActionType = "HUMAN_TASK"
	ActionAgentAssisted    ActionType = "AGENT_ASSISTED"
	ActionComposite        ActionType = "COMPOSITE"
)

// PolicyType distinguishes gates that can never be waived from advisory ones.
type PolicyType string

const (
	PolicyStatutory PolicyType = "STATUTORY"
	PolicyAdvisory  PolicyType = "ADVISORY"
)

// BusinessRule is a named rule expression evaluated during node evaluation.
// Outputs are collected keyed by rule ID and feed downstream edge guards.
type BusinessRule struct {
	ID         string `json:"id" yaml:"id"`
	Expression string `json:"expression" yaml:"expression"`
}

// PolicyGate is a design-time policy check on a node. A STATUTORY gate that
// fails always blocks the node; an ADVISORY failure blocks unless the waiver
// expression evaluates true against the same context.
type PolicyGate struct {
	ID               string     `json:"id" yaml:"id"`
	Type             PolicyType `json:"type" yaml:"type"`
	Expression       string     `json:"expression" yaml:"expression"`
	WaiverExpression string     `json:"waiver_expression,omitempty" yaml:"waiver_expression,omitempty"`
}

// RuntimePolicy is a node-wide policy enforced by the governor at execution
// time, distinct from the design-time gates above.
type RuntimePolicy struct {
	ID         string `json:"id" yaml:"id"`
	Expression string `json:"expression" yaml:"expression"`
}

// ActionConfig carries handler configuration for a node's action.
type ActionConfig struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	// Inputs names the context compartments ("client", "domain", "entity",
	// "operational") the action reads. Used to scope the idempotency
	// fingerprint; empty means domain+entity.
	Inputs    []string       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	ChildRefs []string       `json:"child_refs,omitempty" yaml:"child_refs,omitempty"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ActionSpec describes the action a node performs when dispatched.
type ActionSpec struct {
	Type       ActionType   `json:"type" yaml:"type"`
	HandlerRef string       `json:"handler_ref" yaml:"handler_ref"`
	Config     ActionConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// EventConfig declares which event types a node subscribes to and which
// domain events it emits on completion.
type EventConfig struct {
	Subscribes []string `json:"subscribes,omitempty" yaml:"subscribes,omitempty"`
	Emits      []string `json:"emits,omitempty" yaml:"emits,omitempty"`
}

// ExceptionRoute routes a failed node to a recovery target by error kind.
type ExceptionRoute struct {
	ErrorKind    Kind   `json:"error_kind" yaml:"error_kind"`
	TargetNodeID string `json:"target_node_id" yaml:"target_node_id"`
}

// Node is one vertex of a process graph. Nodes are immutable at runtime.
type Node struct {
	ID                  string           `json:"id" yaml:"id"`
	Name                string           `json:"name" yaml:"name"`
	Preconditions       []string         `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	Rules               []BusinessRule   `json:"rules,omitempty" yaml:"rules,omitempty"`
	PolicyGates         []PolicyGate     `json:"policy_gates,omitempty" yaml:"policy_gates,omitempty"`
	RuntimePolicies     []RuntimePolicy  `json:"runtime_policies,omitempty" yaml:"runtime_policies,omitempty"`
	RequiredPermissions []string         `json:"required_permissions,omitempty" yaml:"required_permissions,omitempty"`
	Action              ActionSpec       `json:"action" yaml:"action"`
	Events              EventConfig      `json:"events,omitempty" yaml:"events,omitempty"`
	ExceptionRoutes     []ExceptionRoute `json:"exception_routes,omitempty" yaml:"exception_routes,omitempty"`
}

// SemanticsType is the execution mode of an edge.
type SemanticsType string

const (
	SemanticsSequential SemanticsType = "SEQUENTIAL"
	SemanticsParallel   SemanticsType = "PARALLEL"
)

// JoinType controls when the target of parallel in-edges becomes eligible.
type JoinType string

const (
	JoinAll  JoinType = "ALL"
	JoinAny  JoinType = "ANY"
	JoinNOfM JoinType = "N_OF_M"
)

// ExecutionSemantics configures sequential vs parallel traversal and, for
// parallel edges, the join the target requires.
type ExecutionSemantics struct {
	Type     SemanticsType `json:"type" yaml:"type"`
	JoinType JoinType      `json:"join_type,omitempty" yaml:"join_type,omitempty"`
	JoinN    int           `json:"join_n,omitempty" yaml:"join_n,omitempty"`
}

// Priority orders candidate edges. Weight sorts descending, rank ascending,
// edge ID is the final tiebreak. An exclusive edge preempts all others.
type Priority struct {
	Weight    int  `json:"weight" yaml:"weight"`
	Rank      int  `json:"rank" yaml:"rank"`
	Exclusive bool `json:"exclusive,omitempty" yaml:"exclusive,omitempty"`
}

// CompensationStrategy is the recovery strategy attached to an edge.
type CompensationStrategy string

const (
	CompensationNone       CompensationStrategy = "NONE"
	CompensationRetry      CompensationStrategy = "RETRY"
	CompensationEscalate   CompensationStrategy = "ESCALATE"
	CompensationCompensate CompensationStrategy = "COMPENSATE"
)

// Compensation configures how a failed action on this edge's target recovers.
type Compensation struct {
	Strategy     CompensationStrategy `json:"strategy" yaml:"strategy"`
	MaxRetries   int                  `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	TargetNodeID string               `json:"target_node_id,omitempty" yaml:"target_node_id,omitempty"`
}

// EdgeGuards holds the four guard compartments. All four must hold for the
// edge to be traversable.
type EdgeGuards struct {
	// Context expressions must each be truthy against the runtime context.
	Context []string `json:"context,omitempty" yaml:"context,omitempty"`
	// Rule IDs must be present in the source node's rule outputs with a
	// truthy outcome.
	Rule []string `json:"rule,omitempty" yaml:"rule,omitempty"`
	// Policy IDs must have outcome PASSED or WAIVED on the source node.
	Policy []string `json:"policy,omitempty" yaml:"policy,omitempty"`
	// Event types must appear in the event history or be the triggering
	// event of the current cycle.
	Event []string `json:"event,omitempty" yaml:"event,omitempty"`
}

// Edge connects two nodes by ID. Edges never hold node pointers; lookups go
// through the graph indices.
type Edge struct {
	ID               string             `json:"id" yaml:"id"`
	SourceNodeID     string             `json:"source_node_id" yaml:"source_node_id"`
	TargetNodeID     string             `json:"target_node_id" yaml:"target_node_id"`
	Guards           EdgeGuards         `json:"guards,omitempty" yaml:"guards,omitempty"`
	Semantics        ExecutionSemantics `json:"semantics" yaml:"semantics"`
	Priority         Priority           `json:"priority" yaml:"priority"`
	ActivatingEvents []string           `json:"activating_events,omitempty" yaml:"activating_events,omitempty"`
	Compensation     Compensation       `json:"compensation,omitempty" yaml:"compensation,omitempty"`
}

// GraphDef is the parsed, unindexed form of a process graph document.
// pkg/graph wraps it in an arena with lookup indices.
type GraphDef struct {
	ID              string            `json:"id" yaml:"id"`
	Version         string            `json:"version" yaml:"version"`
	Status          GraphStatus       `json:"status" yaml:"status"`
	Nodes           []Node            `json:"nodes" yaml:"nodes"`
	Edges           []Edge            `json:"edges" yaml:"edges"`
	EntryNodeIDs    []string          `json:"entry_node_ids" yaml:"entry_node_ids"`
	TerminalNodeIDs []string          `json:"terminal_node_ids" yaml:"terminal_node_ids"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}
