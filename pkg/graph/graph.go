// Package graph builds the immutable, indexed arena form of a process graph
// definition. Nodes and edges reference each other by ID only; all lookups
// go through the indices built at construction.
package graph

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

// Parser is the dry-parse capability of the expression evaluator, used for
// design-time validation of guard, rule and precondition expressions.
type Parser interface {
	Parse(expression string) error
}

// Graph is the arena: it owns the node and edge arrays and the indices over
// them. It is immutable after construction and safe for concurrent reads.
type Graph struct {
	def contracts.GraphDef

	nodeByID         map[string]contracts.Node
	edgeByID         map[string]contracts.Edge
	outboundBySource map[string][]contracts.Edge
	inboundByTarget  map[string][]contracts.Edge
	nodesByEvent     map[string][]string
	edgesByEvent     map[string][]string
}

// New indexes a graph definition. It does not validate; call Validate to get
// the ordered error list required before publishing.
func New(def contracts.GraphDef) *Graph {
	g := &Graph{
		def:              def,
		nodeByID:         make(map[string]contracts.Node, len(def.Nodes)),
		edgeByID:         make(map[string]contracts.Edge, len(def.Edges)),
		outboundBySource: map[string][]contracts.Edge{},
		inboundByTarget:  map[string][]contracts.Edge{},
		nodesByEvent:     map[string][]string{},
		edgesByEvent:     map[string][]string{},
	}
	for _, n := range def.Nodes {
		if _, dup := g.nodeByID[n.ID]; !dup {
			g.nodeByID[n.ID] = n
		}
		for _, sub := range n.Events.Subscribes {
			g.nodesByEvent[sub] = append(g.nodesByEvent[sub], n.ID)
		}
	}
	for _, e := range def.Edges {
		if _, dup := g.edgeByID[e.ID]; !dup {
			g.edgeByID[e.ID] = e
		}
		g.outboundBySource[e.SourceNodeID] = append(g.outboundBySource[e.SourceNodeID], e)
		g.inboundByTarget[e.TargetNodeID] = append(g.inboundByTarget[e.TargetNodeID], e)
		for _, ev := range e.ActivatingEvents {
			g.edgesByEvent[ev] = append(g.edgesByEvent[ev], e.ID)
		}
	}
	for _, edges := range g.outboundBySource {
		sortEdges(edges)
	}
	for _, edges := range g.inboundByTarget {
		sortEdges(edges)
	}
	return g
}

// Edges order: weight descending, rank ascending, edge ID as final tiebreak.
func sortEdges(edges []contracts.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Priority.Weight != b.Priority.Weight {
			return a.Priority.Weight > b.Priority.Weight
		}
		if a.Priority.Rank != b.Priority.Rank {
			return a.Priority.Rank < b.Priority.Rank
		}
		return a.ID < b.ID
	})
}

// ID returns the graph definition ID.
func (g *Graph) ID() string { return g.def.ID }

// Version returns the graph version string.
func (g *Graph) Version() string { return g.def.Version }

// Status returns the lifecycle status.
func (g *Graph) Status() contracts.GraphStatus { return g.def.Status }

// Def returns the underlying definition.
func (g *Graph) Def() contracts.GraphDef { return g.def }

// Node looks a node up by ID.
func (g *Graph) Node(id string) (contracts.Node, bool) {
	n, ok := g.nodeByID[id]
	return n, ok
}

// Edge looks an edge up by ID.
func (g *Graph) Edge(id string) (contracts.Edge, bool) {
	e, ok := g.edgeByID[id]
	return e, ok
}

// Outbound returns the ordered outbound edges of a node.
func (g *Graph) Outbound(sourceID string) []contracts.Edge {
	return g.outboundBySource[sourceID]
}

// Inbound returns the ordered inbound edges of a node.
func (g *Graph) Inbound(targetID string) []contracts.Edge {
	return g.inboundByTarget[targetID]
}

// InboundParallel returns the inbound edges with PARALLEL semantics; this is
// the fan-in group join evaluation works over.
func (g *Graph) InboundParallel(targetID string) []contracts.Edge {
	var out []contracts.Edge
	for _, e := range g.inboundByTarget[targetID] {
		if e.Semantics.Type == contracts.SemanticsParallel {
			out = append(out, e)
		}
	}
	return out
}

// NodesSubscribedTo returns node IDs subscribed to an event type.
func (g *Graph) NodesSubscribedTo(eventType string) []string {
	return g.nodesByEvent[eventType]
}

// EdgesActivatedBy returns edge IDs activated by an event type.
func (g *Graph) EdgesActivatedBy(eventType string) []string {
	return g.edgesByEvent[eventType]
}

// EntryNodeIDs returns the declared entry nodes.
func (g *Graph) EntryNodeIDs() []string { return g.def.EntryNodeIDs }

// TerminalNodeIDs returns the declared terminal nodes.
func (g *Graph) TerminalNodeIDs() []string { return g.def.TerminalNodeIDs }

// IsTerminalNode reports whether the node is declared terminal.
func (g *Graph) IsTerminalNode(id string) bool {
	for _, t := range g.def.TerminalNodeIDs {
		if t == id {
			return true
		}
	}
	return false
}

// ValidationError is one structural or expression problem in a definition.
type ValidationError struct {
	Code    string
	Subject string
	Detail  string
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s (%s): %s", v.Code, v.Subject, v.Detail)
}

// Validation error codes, in the order Validate reports them.
const (
	ErrDanglingRef      = "DANGLING_REFERENCE"
	ErrUnreachableNode  = "UNREACHABLE_NODE"
	ErrEdgeFromTerminal = "EDGE_FROM_TERMINAL"
	ErrDuplicateID      = "DUPLICATE_ID"
	ErrBadExpression    = "MALFORMED_EXPRESSION"
	ErrBadVersion       = "INVALID_VERSION"
)

// Validate returns the ordered list of definition errors; empty means the
// graph may be published. The parser, when non-nil, dry-parses every
// expression in the definition.
func (g *Graph) Validate(parser Parser) []ValidationError {
	var errs []ValidationError

	// Dangling references.
	for _, e := range g.def.Edges {
		if _, ok := g.nodeByID[e.SourceNodeID]; !ok {
			errs = append(errs, ValidationError{ErrDanglingRef, e.ID, "source node " + e.SourceNodeID + " not found"})
		}
		if _, ok := g.nodeByID[e.TargetNodeID]; !ok {
			errs = append(errs, ValidationError{ErrDanglingRef, e.ID, "target node " + e.TargetNodeID + " not found"})
		}
		if e.Compensation.Strategy == contracts.CompensationCompensate {
			if _, ok := g.nodeByID[e.Compensation.TargetNodeID]; !ok {
				errs = append(errs, ValidationError{ErrDanglingRef, e.ID, "compensation target " + e.Compensation.TargetNodeID + " not found"})
			}
		}
	}
	for _, id := range g.def.EntryNodeIDs {
		if _, ok := g.nodeByID[id]; !ok {
			errs = append(errs, ValidationError{ErrDanglingRef, id, "entry node not found"})
		}
	}
	for _, id := range g.def.TerminalNodeIDs {
		if _, ok := g.nodeByID[id]; !ok {
			errs = append(errs, ValidationError{ErrDanglingRef, id, "terminal node not found"})
		}
	}

	// Reachability from any entry node.
	reachable := g.reachableFromEntries()
	for _, n := range g.def.Nodes {
		if !reachable[n.ID] {
			errs = append(errs, ValidationError{ErrUnreachableNode, n.ID, "not reachable from any entry node"})
		}
	}

	// Terminal nodes must not have outbound edges.
	for _, id := range g.def.TerminalNodeIDs {
		if len(g.outboundBySource[id]) > 0 {
			errs = append(errs, ValidationError{ErrEdgeFromTerminal, id, "terminal node has outbound edges"})
		}
	}

	// Duplicate IDs.
	seenNodes := map[string]bool{}
	for _, n := range g.def.Nodes {
		if seenNodes[n.ID] {
			errs = append(errs, ValidationError{ErrDuplicateID, n.ID, "duplicate node id"})
		}
		seenNodes[n.ID] = true
	}
	seenEdges := map[string]bool{}
	for _, e := range g.def.Edges {
		if seenEdges[e.ID] {
			errs = append(errs, ValidationError{ErrDuplicateID, e.ID, "duplicate edge id"})
		}
		seenEdges[e.ID] = true
	}

	// Expression dry-parse.
	if parser != nil {
		errs = append(errs, g.validateExpressions(parser)...)
	}

	// Version must parse as semver before publishing.
	if _, err := semver.NewVersion(g.def.Version); err != nil {
		errs = append(errs, ValidationError{ErrBadVersion, g.def.ID, fmt.Sprintf("version %q is not semver: %v", g.def.Version, err)})
	}

	return errs
}

func (g *Graph) validateExpressions(parser Parser) []ValidationError {
	var errs []ValidationError
	check := func(subject, expression string) {
		if expression == "" {
			return
		}
		if err := parser.Parse(expression); err != nil {
			errs = append(errs, ValidationError{ErrBadExpression, subject, err.Error()})
		}
	}
	for _, n := range g.def.Nodes {
		for _, pre := range n.Preconditions {
			check("node "+n.ID+" precondition", pre)
		}
		for _, r := range n.Rules {
			check("node "+n.ID+" rule "+r.ID, r.Expression)
		}
		for _, p := range n.PolicyGates {
			check("node "+n.ID+" policy "+p.ID, p.Expression)
			check("node "+n.ID+" policy "+p.ID+" waiver", p.WaiverExpression)
		}
		for _, p := range n.RuntimePolicies {
			check("node "+n.ID+" runtime policy "+p.ID, p.Expression)
		}
	}
	for _, e := range g.def.Edges {
		for _, expr := range e.Guards.Context {
			check("edge "+e.ID+" context guard", expr)
		}
	}
	return errs
}

func (g *Graph) reachableFromEntries() map[string]bool {
	visited := map[string]bool{}
	queue := append([]string(nil), g.def.EntryNodeIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, e := range g.outboundBySource[id] {
			queue = append(queue, e.TargetNodeID)
		}
	}
	return visited
}
