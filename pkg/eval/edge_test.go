package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/graph"
)

func TestEdgeEvaluate_ContextGuards(t *testing.T) {
	ee := NewEdgeEvaluator(newCEL(t))
	edge := contracts.Edge{
		ID:     "e1",
		Guards: contracts.EdgeGuards{Context: []string{`domain.state == "READY"`}},
	}

	ev := ee.Evaluate(edge, rctxWith(map[string]any{"state": "READY"}), nil, nil)
	assert.True(t, ev.Traversable)

	ev = ee.Evaluate(edge, rctxWith(map[string]any{"state": "HOLD"}), nil, nil)
	assert.False(t, ev.Traversable)
	assert.Equal(t, contracts.KindGuardFailed, ev.BlockedKind)
}

func TestEdgeEvaluate_RuleGuards(t *testing.T) {
	ee := NewEdgeEvaluator(newCEL(t))
	edge := contracts.Edge{ID: "e1", Guards: contracts.EdgeGuards{Rule: []string{"low_risk"}}}

	ev := ee.Evaluate(edge, rctxWith(nil), map[string]any{"low_risk": true}, nil)
	assert.True(t, ev.Traversable)

	ev = ee.Evaluate(edge, rctxWith(nil), map[string]any{"low_risk": false}, nil)
	assert.False(t, ev.Traversable)

	// An absent rule output is a failed guard, not an error.
	ev = ee.Evaluate(edge, rctxWith(nil), nil, nil)
	assert.False(t, ev.Traversable)
	assert.Equal(t, contracts.KindGuardFailed, ev.BlockedKind)
}

func TestEdgeEvaluate_RuleOutputsVisibleToContextGuards(t *testing.T) {
	ee := NewEdgeEvaluator(newCEL(t))
	edge := contracts.Edge{
		ID:     "e1",
		Guards: contracts.EdgeGuards{Context: []string{"rules.low_risk == true"}},
	}

	ev := ee.Evaluate(edge, rctxWith(nil), map[string]any{"low_risk": true}, nil)
	assert.True(t, ev.Traversable)
}

func TestEdgeEvaluate_PolicyGuards(t *testing.T) {
	ee := NewEdgeEvaluator(newCEL(t))
	edge := contracts.Edge{ID: "e1", Guards: contracts.EdgeGuards{Policy: []string{"kyc"}}}

	ev := ee.Evaluate(edge, rctxWith(nil), nil, map[string]contracts.PolicyOutcome{"kyc": contracts.PolicyPassed})
	assert.True(t, ev.Traversable)

	ev = ee.Evaluate(edge, rctxWith(nil), nil, map[string]contracts.PolicyOutcome{"kyc": contracts.PolicyWaived})
	assert.True(t, ev.Traversable, "WAIVED counts as passing")

	ev = ee.Evaluate(edge, rctxWith(nil), nil, map[string]contracts.PolicyOutcome{"kyc": contracts.PolicyFailed})
	assert.False(t, ev.Traversable)
	assert.Equal(t, contracts.KindPolicyBlocked, ev.BlockedKind)
}

func TestEdgeEvaluate_EventGuards(t *testing.T) {
	ee := NewEdgeEvaluator(newCEL(t))
	edge := contracts.Edge{ID: "e1", Guards: contracts.EdgeGuards{Event: []string{"PaymentReceived"}}}

	rctx := rctxWith(nil)
	ev := ee.Evaluate(edge, rctx, nil, nil)
	assert.False(t, ev.Traversable)

	rctx.ExecutionContext.RecordEvent(contracts.NewDomainEvent("PaymentReceived", "", "", nil))
	ev = ee.Evaluate(edge, rctx, nil, nil)
	assert.True(t, ev.Traversable)
}

func joinGraph(joinType contracts.JoinType, joinN int) *graph.Graph {
	node := func(id string) contracts.Node {
		return contracts.Node{ID: id, Action: contracts.ActionSpec{Type: contracts.ActionSystemInvocation, HandlerRef: "h"}}
	}
	parallel := contracts.ExecutionSemantics{Type: contracts.SemanticsParallel, JoinType: joinType, JoinN: joinN}
	return graph.New(contracts.GraphDef{
		ID: "join", Version: "1.0.0", Status: contracts.GraphPublished,
		Nodes: []contracts.Node{node("a"), node("b"), node("c"), node("join")},
		Edges: []contracts.Edge{
			{ID: "e_a", SourceNodeID: "a", TargetNodeID: "join", Semantics: parallel},
			{ID: "e_b", SourceNodeID: "b", TargetNodeID: "join", Semantics: parallel},
			{ID: "e_c", SourceNodeID: "c", TargetNodeID: "join", Semantics: parallel},
		},
		EntryNodeIDs:    []string{"a"},
		TerminalNodeIDs: []string{"join"},
	})
}

func TestJoinSatisfied(t *testing.T) {
	allTraversable := func(contracts.Edge) bool { return true }

	cases := []struct {
		name      string
		joinType  contracts.JoinType
		joinN     int
		completed map[string]bool
		want      bool
	}{
		{"ALL needs every source", contracts.JoinAll, 0, map[string]bool{"a": true, "b": true}, false},
		{"ALL satisfied", contracts.JoinAll, 0, map[string]bool{"a": true, "b": true, "c": true}, true},
		{"ANY needs one source", contracts.JoinAny, 0, map[string]bool{"b": true}, true},
		{"ANY unsatisfied", contracts.JoinAny, 0, map[string]bool{}, false},
		{"N_OF_M needs n sources", contracts.JoinNOfM, 2, map[string]bool{"a": true}, false},
		{"N_OF_M satisfied", contracts.JoinNOfM, 2, map[string]bool{"a": true, "c": true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := joinGraph(tc.joinType, tc.joinN)
			edge, ok := g.Edge("e_a")
			require.True(t, ok)
			assert.Equal(t, tc.want, JoinSatisfied(g, edge, tc.completed, allTraversable))
		})
	}
}

func TestJoinSatisfied_SingleInEdgeIsAlwaysSatisfied(t *testing.T) {
	g := graph.New(contracts.GraphDef{
		ID: "single", Version: "1.0.0", Status: contracts.GraphPublished,
		Nodes: []contracts.Node{
			{ID: "a", Action: contracts.ActionSpec{Type: contracts.ActionSystemInvocation}},
			{ID: "b", Action: contracts.ActionSpec{Type: contracts.ActionSystemInvocation}},
		},
		Edges: []contracts.Edge{
			{ID: "e", SourceNodeID: "a", TargetNodeID: "b",
				Semantics: contracts.ExecutionSemantics{Type: contracts.SemanticsParallel, JoinType: contracts.JoinAll}},
		},
		EntryNodeIDs:    []string{"a"},
		TerminalNodeIDs: []string{"b"},
	})
	edge, _ := g.Edge("e")
	assert.True(t, JoinSatisfied(g, edge, map[string]bool{}, func(contracts.Edge) bool { return true }))
}

func TestJoinSatisfied_IgnoresUntraversableEdges(t *testing.T) {
	g := joinGraph(contracts.JoinAll, 0)
	edge, _ := g.Edge("e_a")
	completed := map[string]bool{"a": true, "b": true, "c": true}
	onlyAB := func(e contracts.Edge) bool { return e.ID != "e_c" }
	assert.False(t, JoinSatisfied(g, edge, completed, onlyAB))
}
