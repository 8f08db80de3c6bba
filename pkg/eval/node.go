// Package eval produces node and edge evaluations and the per-step eligible
// space. Evaluation failures are captured in the results, never thrown.
package eval

import (
	"fmt"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/expr"
	"github.com/pathwise-io/pathwise/pkg/runtime"
)

// NodeEvaluator checks a node's preconditions, business rules and design-time
// policy gates against a runtime context.
type NodeEvaluator struct {
	evaluator expr.Evaluator
}

// NewNodeEvaluator creates a node evaluator over the expression port.
func NewNodeEvaluator(evaluator expr.Evaluator) *NodeEvaluator {
	return &NodeEvaluator{evaluator: evaluator}
}

// Evaluate runs the three check phases in order: preconditions, rules,
// policy gates. The first blocking phase wins; rule outputs and policy
// outcomes are collected for downstream edge guards.
func (e *NodeEvaluator) Evaluate(node contracts.Node, rctx runtime.Context) contracts.NodeEvaluation {
	bindings := rctx.Flatten()

	// Preconditions: every expression must be truthy.
	for _, pre := range node.Preconditions {
		res, err := e.evaluator.Evaluate(pre, bindings)
		if err != nil {
			return contracts.BlockedNode(node.ID, contracts.KindExpressionError,
				fmt.Sprintf("precondition %q failed to evaluate: %v", pre, err))
		}
		if !expr.Truthy(res.Value) {
			return contracts.BlockedNode(node.ID, contracts.KindPreconditionFailed,
				fmt.Sprintf("precondition %q evaluated false", pre))
		}
	}

	// Business rules in declared order; an evaluation error is
	// unrecoverable and short-circuits.
	ruleOutputs := make(map[string]any, len(node.Rules))
	for _, rule := range node.Rules {
		res, err := e.evaluator.Evaluate(rule.Expression, bindings)
		if err != nil {
			return contracts.BlockedNode(node.ID, contracts.KindRuleEvaluationFailed,
				fmt.Sprintf("rule %s failed to evaluate: %v", rule.ID, err))
		}
		ruleOutputs[rule.ID] = res.Value
	}

	// Policy gates. A statutory failure blocks unconditionally; an advisory
	// failure blocks unless its waiver expression holds.
	outcomes := make(map[string]contracts.PolicyOutcome, len(node.PolicyGates))
	for _, gate := range node.PolicyGates {
		outcome, reason := e.evaluateGate(gate, bindings)
		outcomes[gate.ID] = outcome
		if outcome == contracts.PolicyFailed {
			if gate.Type == contracts.PolicyStatutory {
				return contracts.BlockedNode(node.ID, contracts.KindPolicyBlocked,
					fmt.Sprintf("statutory policy %s failed: %s", gate.ID, reason))
			}
			return contracts.BlockedNode(node.ID, contracts.KindPolicyBlocked,
				fmt.Sprintf("policy %s failed and was not waived: %s", gate.ID, reason))
		}
	}

	return contracts.AvailableNode(node.ID, ruleOutputs, outcomes)
}

func (e *NodeEvaluator) evaluateGate(gate contracts.PolicyGate, bindings map[string]any) (contracts.PolicyOutcome, string) {
	res, err := e.evaluator.Evaluate(gate.Expression, bindings)
	if err != nil {
		// Fail closed: an unevaluable gate counts as failed.
		return contracts.PolicyFailed, err.Error()
	}
	if expr.Truthy(res.Value) {
		return contracts.PolicyPassed, ""
	}
	if gate.Type != contracts.PolicyStatutory && gate.WaiverExpression != "" {
		wres, werr := e.evaluator.Evaluate(gate.WaiverExpression, bindings)
		if werr == nil && expr.Truthy(wres.Value) {
			return contracts.PolicyWaived, ""
		}
	}
	return contracts.PolicyFailed, "expression evaluated false"
}
