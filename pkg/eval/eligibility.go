package eval

import (
	"time"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/expr"
	"github.com/pathwise-io/pathwise/pkg/graph"
	"github.com/pathwise-io/pathwise/pkg/runtime"
)

// EntryPriority is the effective priority assigned to entry-node actions,
// which have no in-edge to carry a weight.
const EntryPriority = 100

// EligibilityEvaluator computes the per-step eligible space: candidate nodes
// crossed with traversable edges.
type EligibilityEvaluator struct {
	nodes *NodeEvaluator
	edges *EdgeEvaluator
	clock func() time.Time
}

// NewEligibilityEvaluator wires the node and edge evaluators over one
// expression port.
func NewEligibilityEvaluator(evaluator expr.Evaluator) *EligibilityEvaluator {
	return &EligibilityEvaluator{
		nodes: NewNodeEvaluator(evaluator),
		edges: NewEdgeEvaluator(evaluator),
		clock: time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *EligibilityEvaluator) WithClock(clock func() time.Time) *EligibilityEvaluator {
	e.clock = clock
	return e
}

// EvaluateEntry computes the space considering only entry nodes. Used for
// the first cycle of a fresh instance.
func (e *EligibilityEvaluator) EvaluateEntry(instance *contracts.ProcessInstance, g *graph.Graph, rctx runtime.Context) contracts.EligibleSpace {
	s := newSession(e, instance, g, rctx)
	s.addEntryCandidates()
	return s.build()
}

// Evaluate computes the full space: entry nodes for fresh instances, targets
// of active and completed nodes, pending edges, and (when the context has a
// triggering event) event subscribers and activated edges.
func (e *EligibilityEvaluator) Evaluate(instance *contracts.ProcessInstance, g *graph.Graph, rctx runtime.Context) contracts.EligibleSpace {
	s := newSession(e, instance, g, rctx)
	s.addEntryCandidates()
	s.addProgressCandidates()
	s.addEventCandidates()
	return s.build()
}

// ReevaluateAfterEvent recomputes the space after an inbound event. The
// triggering event in the context biases the candidate sets toward its
// subscribers and activated edges.
func (e *EligibilityEvaluator) ReevaluateAfterEvent(instance *contracts.ProcessInstance, g *graph.Graph, rctx runtime.Context) contracts.EligibleSpace {
	return e.Evaluate(instance, g, rctx)
}

// session memoizes node and edge evaluations for one space computation so a
// node shared by several edges is evaluated once.
type session struct {
	eval      *EligibilityEvaluator
	instance  *contracts.ProcessInstance
	graph     *graph.Graph
	rctx      runtime.Context
	completed map[string]bool

	nodeEvals map[string]contracts.NodeEvaluation
	edgeEvals map[string]contracts.EdgeEvaluation

	candidateNodes []string
	candidateEdges []contracts.Edge
	seenNodes      map[string]bool
	seenEdges      map[string]bool

	entryCandidates []string
}

func newSession(e *EligibilityEvaluator, instance *contracts.ProcessInstance, g *graph.Graph, rctx runtime.Context) *session {
	return &session{
		eval:      e,
		instance:  instance,
		graph:     g,
		rctx:      rctx,
		completed: instance.CompletedNodeIDs(),
		nodeEvals: map[string]contracts.NodeEvaluation{},
		edgeEvals: map[string]contracts.EdgeEvaluation{},
		seenNodes: map[string]bool{},
		seenEdges: map[string]bool{},
	}
}

func (s *session) addEntryCandidates() {
	if len(s.instance.NodeExecutions) > 0 || len(s.instance.ActiveNodeIDs) > 0 {
		return
	}
	for _, id := range s.graph.EntryNodeIDs() {
		s.addNode(id)
		s.entryCandidates = append(s.entryCandidates, id)
	}
}

func (s *session) addProgressCandidates() {
	for _, active := range s.instance.ActiveNodeIDs {
		for _, edge := range s.graph.Outbound(active) {
			s.addNode(edge.TargetNodeID)
		}
	}
	for _, exec := range s.instance.NodeExecutions {
		if exec.Status != contracts.ExecutionCompleted {
			continue
		}
		for _, edge := range s.graph.Outbound(exec.NodeID) {
			if !s.instance.HasExecutedNode(edge.TargetNodeID) {
				s.addNode(edge.TargetNodeID)
			}
			s.addEdge(edge)
		}
	}
	for _, edgeID := range s.instance.PendingEdgeIDs {
		if edge, ok := s.graph.Edge(edgeID); ok {
			s.addEdge(edge)
			s.addNode(edge.TargetNodeID)
		}
	}
}

func (s *session) addEventCandidates() {
	trigger := s.rctx.TriggeringEvent
	if trigger == nil {
		return
	}
	eventType := string(trigger.HistoryType())
	for _, nodeID := range s.graph.NodesSubscribedTo(eventType) {
		if !s.instance.HasExecutedNode(nodeID) {
			s.addNode(nodeID)
		}
	}
	for _, edgeID := range s.graph.EdgesActivatedBy(eventType) {
		if edge, ok := s.graph.Edge(edgeID); ok {
			s.addEdge(edge)
			s.addNode(edge.TargetNodeID)
		}
	}
}

func (s *session) addNode(id string) {
	if s.seenNodes[id] {
		return
	}
	if _, ok := s.graph.Node(id); !ok {
		return
	}
	s.seenNodes[id] = true
	s.candidateNodes = append(s.candidateNodes, id)
}

func (s *session) addEdge(edge contracts.Edge) {
	if s.seenEdges[edge.ID] {
		return
	}
	s.seenEdges[edge.ID] = true
	s.candidateEdges = append(s.candidateEdges, edge)
}

func (s *session) evalNode(id string) contracts.NodeEvaluation {
	if ev, ok := s.nodeEvals[id]; ok {
		return ev
	}
	node, ok := s.graph.Node(id)
	if !ok {
		ev := contracts.BlockedNode(id, contracts.KindNodeNotFound, "node not in graph")
		s.nodeEvals[id] = ev
		return ev
	}
	ev := s.eval.nodes.Evaluate(node, s.rctx)
	s.nodeEvals[id] = ev
	return ev
}

func (s *session) evalEdge(edge contracts.Edge) contracts.EdgeEvaluation {
	if ev, ok := s.edgeEvals[edge.ID]; ok {
		return ev
	}
	source := s.evalNode(edge.SourceNodeID)
	ev := s.eval.edges.Evaluate(edge, s.rctx, source.RuleOutputs, source.PolicyOutcomes)
	s.edgeEvals[edge.ID] = ev
	return ev
}

func (s *session) build() contracts.EligibleSpace {
	space := contracts.EligibleSpace{EvaluatedAt: s.eval.clock()}

	// Node evaluations for every candidate node.
	for _, id := range s.candidateNodes {
		ev := s.evalNode(id)
		if ev.Available {
			space.EligibleNodes = append(space.EligibleNodes, ev)
		} else {
			space.RejectedNodes = append(space.RejectedNodes, ev)
		}
	}

	// Edge evaluations, with join checks for parallel edges.
	traversable := func(e contracts.Edge) bool { return s.evalEdge(e).Traversable }
	for _, edge := range s.candidateEdges {
		ev := s.evalEdge(edge)
		if !ev.Traversable {
			space.RejectedEdges = append(space.RejectedEdges, ev)
			continue
		}
		space.TraversableEdges = append(space.TraversableEdges, ev)

		targetEval := s.evalNode(edge.TargetNodeID)
		if !targetEval.Available {
			continue
		}
		if s.instance.HasExecutedNode(edge.TargetNodeID) || s.instance.IsActiveNode(edge.TargetNodeID) {
			continue
		}
		if edge.Semantics.Type == contracts.SemanticsParallel &&
			!JoinSatisfied(s.graph, edge, s.completed, traversable) {
			space.PendingJoinEdgeIDs = append(space.PendingJoinEdgeIDs, edge.ID)
			continue
		}

		edgeEval := ev
		space.CandidateActions = append(space.CandidateActions, contracts.CandidateAction{
			NodeID:            edge.TargetNodeID,
			EdgeID:            edge.ID,
			SourceNodeID:      edge.SourceNodeID,
			NodeEvaluation:    targetEval,
			EdgeEvaluation:    &edgeEval,
			EffectivePriority: edge.Priority.Weight,
			Rank:              edge.Priority.Rank,
			Exclusive:         edge.Priority.Exclusive,
			Parallel:          edge.Semantics.Type == contracts.SemanticsParallel,
		})
	}

	// Entry actions for fresh instances.
	for _, id := range s.entryCandidates {
		ev := s.evalNode(id)
		if !ev.Available {
			continue
		}
		space.CandidateActions = append(space.CandidateActions, contracts.CandidateAction{
			NodeID:            id,
			NodeEvaluation:    ev,
			EffectivePriority: EntryPriority,
		})
	}

	// Dedupe candidate actions targeting the same node through different
	// sources: keep the highest-priority one; the rest stay visible as
	// traversable edges for the trace.
	space.CandidateActions = dedupeByTarget(space.CandidateActions)
	return space
}

func dedupeByTarget(actions []contracts.CandidateAction) []contracts.CandidateAction {
	best := map[string]int{}
	var out []contracts.CandidateAction
	for _, a := range actions {
		idx, seen := best[a.NodeID]
		if !seen {
			best[a.NodeID] = len(out)
			out = append(out, a)
			continue
		}
		if a.EffectivePriority > out[idx].EffectivePriority {
			out[idx] = a
		}
	}
	return out
}
