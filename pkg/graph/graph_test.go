package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

func linearDef() contracts.GraphDef {
	return contracts.GraphDef{
		ID:      "linear",
		Version: "1.0.0",
		Status:  contracts.GraphPublished,
		Nodes: []contracts.Node{
			{ID: "a", Name: "A", Action: contracts.ActionSpec{Type: contracts.ActionSystemInvocation, HandlerRef: "h"}},
			{ID: "b", Name: "B", Action: contracts.ActionSpec{Type: contracts.ActionSystemInvocation, HandlerRef: "h"},
				Events: contracts.EventConfig{Subscribes: []string{"Approval"}}},
			{ID: "c", Name: "C", Action: contracts.ActionSpec{Type: contracts.ActionSystemInvocation, HandlerRef: "h"}},
		},
		Edges: []contracts.Edge{
			{ID: "e_ab", SourceNodeID: "a", TargetNodeID: "b",
				Semantics: contracts.ExecutionSemantics{Type: contracts.SemanticsSequential},
				Priority:  contracts.Priority{Weight: 10}},
			{ID: "e_bc", SourceNodeID: "b", TargetNodeID: "c",
				Semantics:        contracts.ExecutionSemantics{Type: contracts.SemanticsSequential},
				Priority:         contracts.Priority{Weight: 10},
				ActivatingEvents: []string{"PaymentReceived"}},
		},
		EntryNodeIDs:    []string{"a"},
		TerminalNodeIDs: []string{"c"},
	}
}

func TestNew_BuildsIndices(t *testing.T) {
	g := New(linearDef())

	n, ok := g.Node("b")
	require.True(t, ok)
	assert.Equal(t, "B", n.Name)

	e, ok := g.Edge("e_ab")
	require.True(t, ok)
	assert.Equal(t, "b", e.TargetNodeID)

	require.Len(t, g.Outbound("a"), 1)
	require.Len(t, g.Inbound("b"), 1)
	assert.Empty(t, g.Outbound("c"))

	assert.Equal(t, []string{"b"}, g.NodesSubscribedTo("Approval"))
	assert.Equal(t, []string{"e_bc"}, g.EdgesActivatedBy("PaymentReceived"))

	assert.True(t, g.IsTerminalNode("c"))
	assert.False(t, g.IsTerminalNode("a"))
}

func TestOutbound_OrderedByPriority(t *testing.T) {
	def := linearDef()
	def.Edges = append(def.Edges,
		contracts.Edge{ID: "e_ac_low", SourceNodeID: "a", TargetNodeID: "c",
			Priority: contracts.Priority{Weight: 1}},
		contracts.Edge{ID: "e_ac_high", SourceNodeID: "a", TargetNodeID: "c",
			Priority: contracts.Priority{Weight: 50}},
	)
	g := New(def)

	out := g.Outbound("a")
	require.Len(t, out, 3)
	assert.Equal(t, "e_ac_high", out[0].ID)
	assert.Equal(t, "e_ab", out[1].ID)
	assert.Equal(t, "e_ac_low", out[2].ID)
}

func TestInboundParallel_FiltersSemantics(t *testing.T) {
	def := linearDef()
	def.Edges = append(def.Edges, contracts.Edge{
		ID: "e_ac_par", SourceNodeID: "a", TargetNodeID: "c",
		Semantics: contracts.ExecutionSemantics{Type: contracts.SemanticsParallel, JoinType: contracts.JoinAll},
	})
	g := New(def)

	par := g.InboundParallel("c")
	require.Len(t, par, 1)
	assert.Equal(t, "e_ac_par", par[0].ID)
}

func TestValidate_CleanGraph(t *testing.T) {
	g := New(linearDef())
	assert.Empty(t, g.Validate(nil))
}

func TestValidate_ReportsDanglingReferences(t *testing.T) {
	def := linearDef()
	def.Edges = append(def.Edges, contracts.Edge{ID: "e_bad", SourceNodeID: "b", TargetNodeID: "ghost"})
	g := New(def)

	errs := g.Validate(nil)
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrDanglingRef, errs[0].Code)
	assert.Equal(t, "e_bad", errs[0].Subject)
}

func TestValidate_ReportsUnreachableNode(t *testing.T) {
	def := linearDef()
	def.Nodes = append(def.Nodes, contracts.Node{
		ID: "island", Name: "Island",
		Action: contracts.ActionSpec{Type: contracts.ActionSystemInvocation, HandlerRef: "h"},
	})
	g := New(def)

	errs := g.Validate(nil)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnreachableNode, errs[0].Code)
	assert.Equal(t, "island", errs[0].Subject)
}

func TestValidate_ReportsEdgeFromTerminal(t *testing.T) {
	def := linearDef()
	def.Edges = append(def.Edges, contracts.Edge{ID: "e_loop", SourceNodeID: "c", TargetNodeID: "a"})
	g := New(def)

	var codes []string
	for _, e := range g.Validate(nil) {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, ErrEdgeFromTerminal)
}

func TestValidate_ReportsDuplicateIDs(t *testing.T) {
	def := linearDef()
	def.Nodes = append(def.Nodes, def.Nodes[0])
	g := New(def)

	var codes []string
	for _, e := range g.Validate(nil) {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, ErrDuplicateID)
}

func TestValidate_ReportsBadVersion(t *testing.T) {
	def := linearDef()
	def.Version = "not-a-version"
	g := New(def)

	var codes []string
	for _, e := range g.Validate(nil) {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, ErrBadVersion)
}

type failingParser struct{}

func (failingParser) Parse(expression string) error {
	if expression == "broken ==" {
		return errors.New("unexpected end of expression")
	}
	return nil
}

func TestValidate_DryParsesExpressions(t *testing.T) {
	def := linearDef()
	def.Nodes[0].Preconditions = []string{"broken =="}
	g := New(def)

	var codes []string
	for _, e := range g.Validate(failingParser{}) {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, ErrBadExpression)
}
