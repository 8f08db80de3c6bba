package contracts

import "time"

// PolicyOutcome is the result of a design-time policy gate.
type PolicyOutcome string

const (
	PolicyPassed PolicyOutcome = "PASSED"
	PolicyFailed PolicyOutcome = "FAILED"
	PolicyWaived PolicyOutcome = "WAIVED"
)

// NodeEvaluation is the result of evaluating a node's preconditions, rules
// and policy gates against a runtime context. Failure is a value, never an
// exception: Available=false plus a reason.
type NodeEvaluation struct {
	NodeID         string                   `json:"node_id"`
	Available      bool                     `json:"available"`
	Reason         string                   `json:"reason,omitempty"`
	BlockedKind    Kind                     `json:"blocked_kind,omitempty"`
	RuleOutputs    map[string]any           `json:"rule_outputs,omitempty"`
	PolicyOutcomes map[string]PolicyOutcome `json:"policy_outcomes,omitempty"`
}

// AvailableNode builds a passing evaluation.
func AvailableNode(nodeID string, ruleOutputs map[string]any, policyOutcomes map[string]PolicyOutcome) NodeEvaluation {
	return NodeEvaluation{
		NodeID:         nodeID,
		Available:      true,
		RuleOutputs:    ruleOutputs,
		PolicyOutcomes: policyOutcomes,
	}
}

// BlockedNode builds a failing evaluation with its classified reason.
func BlockedNode(nodeID string, kind Kind, reason string) NodeEvaluation {
	return NodeEvaluation{NodeID: nodeID, Available: false, BlockedKind: kind, Reason: reason}
}

// EdgeEvaluation is the result of checking an edge's four guard compartments.
type EdgeEvaluation struct {
	EdgeID      string `json:"edge_id"`
	Traversable bool   `json:"traversable"`
	Reason      string `json:"reason,omitempty"`
	BlockedKind Kind   `json:"blocked_kind,omitempty"`
}

// TraversableEdge builds a passing edge evaluation.
func TraversableEdge(edgeID string) EdgeEvaluation {
	return EdgeEvaluation{EdgeID: edgeID, Traversable: true}
}

// NotTraversableEdge builds a failing edge evaluation.
func NotTraversableEdge(edgeID string, kind Kind, reason string) EdgeEvaluation {
	return EdgeEvaluation{EdgeID: edgeID, Traversable: false, BlockedKind: kind, Reason: reason}
}

// CandidateAction pairs an eligible target node with the traversable edge
// that reaches it. Entry actions have no edge.
type CandidateAction struct {
	NodeID            string          `json:"node_id"`
	EdgeID            string          `json:"edge_id,omitempty"`
	SourceNodeID      string          `json:"source_node_id,omitempty"`
	NodeEvaluation    NodeEvaluation  `json:"node_evaluation"`
	EdgeEvaluation    *EdgeEvaluation `json:"edge_evaluation,omitempty"`
	EffectivePriority int             `json:"effective_priority"`
	Rank              int             `json:"rank"`
	Exclusive         bool            `json:"exclusive"`
	Parallel          bool            `json:"parallel"`
}

// EligibleSpace is the per-step set of candidate actions, together with the
// rejected evaluations kept for the trace.
type EligibleSpace struct {
	EligibleNodes    []NodeEvaluation  `json:"eligible_nodes,omitempty"`
	TraversableEdges []EdgeEvaluation  `json:"traversable_edges,omitempty"`
	CandidateActions []CandidateAction `json:"candidate_actions,omitempty"`
	RejectedNodes    []NodeEvaluation  `json:"rejected_nodes,omitempty"`
	RejectedEdges    []EdgeEvaluation  `json:"rejected_edges,omitempty"`
	// PendingJoinEdgeIDs are traversable parallel edges whose target join
	// is not yet satisfied; the orchestrator parks them on the instance.
	PendingJoinEdgeIDs []string  `json:"pending_join_edge_ids,omitempty"`
	EvaluatedAt        time.Time `json:"evaluated_at"`
}

// Empty reports whether the space has no candidate actions.
func (s EligibleSpace) Empty() bool { return len(s.CandidateActions) == 0 }

// DecisionType is the outcome class of a navigation decision.
type DecisionType string

const (
	DecisionProceed  DecisionType = "PROCEED"
	DecisionWait     DecisionType = "WAIT"
	DecisionComplete DecisionType = "COMPLETE"
	DecisionBlocked  DecisionType = "BLOCKED"
)

// SelectionCriteria names the rule that picked the selected set.
type SelectionCriteria string

const (
	CriteriaExclusive       SelectionCriteria = "EXCLUSIVE"
	CriteriaDependencyOrder SelectionCriteria = "DEPENDENCY_ORDER"
	CriteriaHighestPriority SelectionCriteria = "HIGHEST_PRIORITY"
	CriteriaParallel        SelectionCriteria = "PARALLEL"
	CriteriaSingleOption    SelectionCriteria = "SINGLE_OPTION"
	CriteriaNoOptions       SelectionCriteria = "NO_OPTIONS"
)

// Alternative records why each candidate was or was not selected.
type Alternative struct {
	Action   CandidateAction `json:"action"`
	Selected bool            `json:"selected"`
	Reason   string          `json:"reason"`
}

// DependencyConstraints narrows selection: MustExecuteBefore maps a node to
// the nodes that must complete first; MustNotParallel lists node pairs that
// may never be dispatched in the same parallel step.
type DependencyConstraints struct {
	MustExecuteBefore map[string][]string `json:"must_execute_before,omitempty"`
	MustNotParallel   [][2]string         `json:"must_not_parallel,omitempty"`
}

// NavigationDecision is the deterministic selection over an eligible space.
type NavigationDecision struct {
	Type         DecisionType      `json:"type"`
	Selected     []CandidateAction `json:"selected,omitempty"`
	Alternatives []Alternative     `json:"alternatives,omitempty"`
	Criteria     SelectionCriteria `json:"selection_criteria"`
	Reason       string            `json:"selection_reason"`
	Space        EligibleSpace     `json:"eligible_space"`
	DecidedAt    time.Time         `json:"decided_at"`
}

// SelectedNodeIDs lists the node IDs of the selected actions in order.
func (d NavigationDecision) SelectedNodeIDs() []string {
	out := make([]string, len(d.Selected))
	for i, a := range d.Selected {
		out[i] = a.NodeID
	}
	return out
}
