package eval

import (
	"fmt"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/expr"
	"github.com/pathwise-io/pathwise/pkg/graph"
	"github.com/pathwise-io/pathwise/pkg/runtime"
)

// EdgeEvaluator checks the four guard compartments of an edge. All four
// must hold for the edge to be traversable.
type EdgeEvaluator struct {
	evaluator expr.Evaluator
}

// NewEdgeEvaluator creates an edge evaluator over the expression port.
func NewEdgeEvaluator(evaluator expr.Evaluator) *EdgeEvaluator {
	return &EdgeEvaluator{evaluator: evaluator}
}

// Evaluate checks the edge's guards. Rule outputs and policy outcomes come
// from the source node's evaluation.
func (e *EdgeEvaluator) Evaluate(
	edge contracts.Edge,
	rctx runtime.Context,
	ruleOutputs map[string]any,
	policyOutcomes map[string]contracts.PolicyOutcome,
) contracts.EdgeEvaluation {
	bindings := rctx.Flatten()
	bindings["rules"] = ruleOutputs
	bindings["policies"] = policyOutcomeBindings(policyOutcomes)

	// Context guards: every expression truthy.
	for _, g := range edge.Guards.Context {
		res, err := e.evaluator.Evaluate(g, bindings)
		if err != nil {
			return contracts.NotTraversableEdge(edge.ID, contracts.KindExpressionError,
				fmt.Sprintf("context guard %q failed to evaluate: %v", g, err))
		}
		if !expr.Truthy(res.Value) {
			return contracts.NotTraversableEdge(edge.ID, contracts.KindGuardFailed,
				fmt.Sprintf("context guard %q evaluated false", g))
		}
	}

	// Rule guards: the named rule must exist with a truthy outcome.
	for _, ruleID := range edge.Guards.Rule {
		out, ok := ruleOutputs[ruleID]
		if !ok {
			return contracts.NotTraversableEdge(edge.ID, contracts.KindGuardFailed,
				fmt.Sprintf("rule guard %s has no output on source node", ruleID))
		}
		if !expr.Truthy(out) {
			return contracts.NotTraversableEdge(edge.ID, contracts.KindGuardFailed,
				fmt.Sprintf("rule guard %s evaluated false", ruleID))
		}
	}

	// Policy guards: outcome must be PASSED or WAIVED.
	for _, policyID := range edge.Guards.Policy {
		outcome, ok := policyOutcomes[policyID]
		if !ok {
			return contracts.NotTraversableEdge(edge.ID, contracts.KindGuardFailed,
				fmt.Sprintf("policy guard %s has no outcome on source node", policyID))
		}
		if outcome == contracts.PolicyFailed {
			return contracts.NotTraversableEdge(edge.ID, contracts.KindPolicyBlocked,
				fmt.Sprintf("policy guard %s outcome is FAILED", policyID))
		}
	}

	// Event guards: the event must be in the history or be the trigger.
	for _, eventType := range edge.Guards.Event {
		if !rctx.SeesEvent(eventType) {
			return contracts.NotTraversableEdge(edge.ID, contracts.KindGuardFailed,
				fmt.Sprintf("event guard %s not observed", eventType))
		}
	}

	return contracts.TraversableEdge(edge.ID)
}

// JoinSatisfied decides whether the target of a parallel in-edge is eligible
// given the traversability of its fan-in group. The group is the set of
// inbound PARALLEL edges of the target.
//
//   - ALL: every edge in the group is traversable and its source completed.
//   - ANY: at least one edge in the group is traversable with a completed source.
//   - N_OF_M: at least JoinN such edges.
func JoinSatisfied(
	g *graph.Graph,
	edge contracts.Edge,
	completed map[string]bool,
	traversable func(contracts.Edge) bool,
) bool {
	group := g.InboundParallel(edge.TargetNodeID)
	if len(group) <= 1 {
		return true
	}

	satisfied := 0
	for _, in := range group {
		if completed[in.SourceNodeID] && traversable(in) {
			satisfied++
		}
	}

	switch edge.Semantics.JoinType {
	case contracts.JoinAny:
		return satisfied >= 1
	case contracts.JoinNOfM:
		n := edge.Semantics.JoinN
		if n <= 0 {
			n = len(group)
		}
		return satisfied >= n
	default: // ALL is the default join
		return satisfied == len(group)
	}
}

func policyOutcomeBindings(outcomes map[string]contracts.PolicyOutcome) map[string]any {
	out := make(map[string]any, len(outcomes))
	for id, o := range outcomes {
		out[id] = string(o)
	}
	return out
}
