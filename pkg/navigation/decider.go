// Package navigation selects which candidate actions to dispatch. Selection
// is pure and order-stable: the same eligible space, instance state and
// constraints always produce the same decision.
package navigation

import (
	"fmt"
	"sort"
	"time"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/graph"
)

// Decider applies the selection rules over an eligible space:
// exclusive preemption, dependency filtering, parallel grouping, priority.
type Decider struct {
	// MaxParallelPerStep caps how many parallel actions one cycle may
	// select; zero or negative means unlimited.
	MaxParallelPerStep int

	clock func() time.Time
}

// NewDecider creates a decider with the given parallel cap.
func NewDecider(maxParallelPerStep int) *Decider {
	return &Decider{MaxParallelPerStep: maxParallelPerStep, clock: time.Now}
}

// WithClock overrides the decision timestamp source for tests.
func (d *Decider) WithClock(clock func() time.Time) *Decider {
	d.clock = clock
	return d
}

// Select picks the action set for this cycle. Every candidate appears in
// Alternatives with its selected flag and reason.
func (d *Decider) Select(
	space contracts.EligibleSpace,
	instance *contracts.ProcessInstance,
	g *graph.Graph,
	deps *contracts.DependencyConstraints,
) contracts.NavigationDecision {
	now := d.clock()
	completed := instance.CompletedNodeIDs()

	if space.Empty() {
		if anyTerminalReached(g, completed) {
			return contracts.NavigationDecision{
				Type:      contracts.DecisionComplete,
				Criteria:  contracts.CriteriaNoOptions,
				Reason:    "all terminal nodes reached",
				Space:     space,
				DecidedAt: now,
			}
		}
		return contracts.NavigationDecision{
			Type:      contracts.DecisionWait,
			Criteria:  contracts.CriteriaNoOptions,
			Reason:    "no eligible actions",
			Space:     space,
			DecidedAt: now,
		}
	}

	sorted := sortCandidates(space.CandidateActions)

	// Exclusive preemption comes before everything else.
	if idx := firstExclusive(sorted); idx >= 0 {
		winner := sorted[idx]
		alts := make([]contracts.Alternative, 0, len(sorted))
		for _, c := range sorted {
			if c.NodeID == winner.NodeID && c.EdgeID == winner.EdgeID {
				alts = append(alts, contracts.Alternative{Action: c, Selected: true, Reason: "exclusive edge preempts all alternatives"})
			} else {
				alts = append(alts, contracts.Alternative{Action: c, Selected: false, Reason: "preempted by exclusive edge"})
			}
		}
		return contracts.NavigationDecision{
			Type:         contracts.DecisionProceed,
			Selected:     []contracts.CandidateAction{winner},
			Alternatives: alts,
			Criteria:     contracts.CriteriaExclusive,
			Reason:       fmt.Sprintf("edge %s is exclusive", winner.EdgeID),
			Space:        space,
			DecidedAt:    now,
		}
	}

	// Dependency filter; an empty result restores the unfiltered set so a
	// bad constraint cannot starve the instance. The restoration is
	// surfaced in the reason for trace visibility.
	filtered, dropped, restored := applyDependencyConstraints(sorted, completed, deps)

	if len(filtered) == 1 {
		return d.single(filtered[0], sorted, dropped, restored, space, now)
	}

	// Parallel grouping.
	parallel := parallelSubset(filtered, deps)
	if len(parallel) >= 2 {
		capN := d.MaxParallelPerStep
		if capN > 0 && len(parallel) > capN {
			parallel = parallel[:capN]
		}
		selected := map[string]bool{}
		for _, c := range parallel {
			selected[c.EdgeID+"/"+c.NodeID] = true
		}
		alts := make([]contracts.Alternative, 0, len(sorted))
		for _, c := range sorted {
			key := c.EdgeID + "/" + c.NodeID
			switch {
			case selected[key]:
				alts = append(alts, contracts.Alternative{Action: c, Selected: true, Reason: "parallel dispatch"})
			case dropped[key] && !restored:
				alts = append(alts, contracts.Alternative{Action: c, Selected: false, Reason: "dependency constraints not satisfied"})
			default:
				alts = append(alts, contracts.Alternative{Action: c, Selected: false, Reason: "not in parallel subset"})
			}
		}
		reason := fmt.Sprintf("%d parallel actions selected", len(parallel))
		if restored {
			reason += " (dependency filter emptied the set and was restored)"
		}
		return contracts.NavigationDecision{
			Type:         contracts.DecisionProceed,
			Selected:     parallel,
			Alternatives: alts,
			Criteria:     contracts.CriteriaParallel,
			Reason:       reason,
			Space:        space,
			DecidedAt:    now,
		}
	}

	// Head of the sorted list wins on priority.
	winner := filtered[0]
	alts := make([]contracts.Alternative, 0, len(sorted))
	for _, c := range sorted {
		key := c.EdgeID + "/" + c.NodeID
		switch {
		case c.NodeID == winner.NodeID && c.EdgeID == winner.EdgeID:
			alts = append(alts, contracts.Alternative{Action: c, Selected: true, Reason: "highest priority"})
		case dropped[key] && !restored:
			alts = append(alts, contracts.Alternative{Action: c, Selected: false, Reason: "dependency constraints not satisfied"})
		default:
			alts = append(alts, contracts.Alternative{Action: c, Selected: false, Reason: "lower priority"})
		}
	}
	reason := fmt.Sprintf("edge %s has highest effective priority", winner.EdgeID)
	if winner.EdgeID == "" {
		reason = fmt.Sprintf("entry node %s has highest effective priority", winner.NodeID)
	}
	if restored {
		reason += " (dependency filter emptied the set and was restored)"
	}
	return contracts.NavigationDecision{
		Type:         contracts.DecisionProceed,
		Selected:     []contracts.CandidateAction{winner},
		Alternatives: alts,
		Criteria:     contracts.CriteriaHighestPriority,
		Reason:       reason,
		Space:        space,
		DecidedAt:    now,
	}
}

func (d *Decider) single(
	winner contracts.CandidateAction,
	sorted []contracts.CandidateAction,
	dropped map[string]bool,
	restored bool,
	space contracts.EligibleSpace,
	now time.Time,
) contracts.NavigationDecision {
	criteria := contracts.CriteriaSingleOption
	reason := "only one eligible action"
	if len(dropped) > 0 && !restored {
		criteria = contracts.CriteriaDependencyOrder
		reason = "single action remaining after dependency filtering"
	}
	alts := make([]contracts.Alternative, 0, len(sorted))
	for _, c := range sorted {
		key := c.EdgeID + "/" + c.NodeID
		switch {
		case c.NodeID == winner.NodeID && c.EdgeID == winner.EdgeID:
			alts = append(alts, contracts.Alternative{Action: c, Selected: true, Reason: reason})
		case dropped[key]:
			alts = append(alts, contracts.Alternative{Action: c, Selected: false, Reason: "dependency constraints not satisfied"})
		default:
			alts = append(alts, contracts.Alternative{Action: c, Selected: false, Reason: "not selected"})
		}
	}
	return contracts.NavigationDecision{
		Type:         contracts.DecisionProceed,
		Selected:     []contracts.CandidateAction{winner},
		Alternatives: alts,
		Criteria:     criteria,
		Reason:       reason,
		Space:        space,
		DecidedAt:    now,
	}
}

// sortCandidates orders by effective priority descending, rank ascending,
// then edge ID lexicographically for a stable total order.
func sortCandidates(actions []contracts.CandidateAction) []contracts.CandidateAction {
	sorted := append([]contracts.CandidateAction(nil), actions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.EffectivePriority != b.EffectivePriority {
			return a.EffectivePriority > b.EffectivePriority
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if a.EdgeID != b.EdgeID {
			return a.EdgeID < b.EdgeID
		}
		return a.NodeID < b.NodeID
	})
	return sorted
}

func firstExclusive(sorted []contracts.CandidateAction) int {
	for i, c := range sorted {
		if c.Exclusive {
			return i
		}
	}
	return -1
}

// applyDependencyConstraints drops candidates whose declared prerequisites
// are not completed, and candidates whose in-edge source is not completed
// (implicit dependency). Entry actions have no source and pass. If the
// filter empties the set, the unfiltered set is restored.
func applyDependencyConstraints(
	sorted []contracts.CandidateAction,
	completed map[string]bool,
	deps *contracts.DependencyConstraints,
) (filtered []contracts.CandidateAction, dropped map[string]bool, restored bool) {
	dropped = map[string]bool{}
	for _, c := range sorted {
		key := c.EdgeID + "/" + c.NodeID
		if c.SourceNodeID != "" && !completed[c.SourceNodeID] {
			dropped[key] = true
			continue
		}
		if deps != nil {
			unsatisfied := false
			for _, req := range deps.MustExecuteBefore[c.NodeID] {
				if !completed[req] {
					unsatisfied = true
					break
				}
			}
			if unsatisfied {
				dropped[key] = true
				continue
			}
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return sorted, dropped, true
	}
	return filtered, dropped, false
}

// parallelSubset keeps the PARALLEL candidates, excluding the later member
// of any pair forbidden by MustNotParallel.
func parallelSubset(filtered []contracts.CandidateAction, deps *contracts.DependencyConstraints) []contracts.CandidateAction {
	var out []contracts.CandidateAction
	chosen := map[string]bool{}
	for _, c := range filtered {
		if !c.Parallel {
			continue
		}
		if deps != nil && conflictsWithChosen(c.NodeID, chosen, deps.MustNotParallel) {
			continue
		}
		out = append(out, c)
		chosen[c.NodeID] = true
	}
	return out
}

func conflictsWithChosen(nodeID string, chosen map[string]bool, pairs [][2]string) bool {
	for _, p := range pairs {
		if p[0] == nodeID && chosen[p[1]] {
			return true
		}
		if p[1] == nodeID && chosen[p[0]] {
			return true
		}
	}
	return false
}

func anyTerminalReached(g *graph.Graph, completed map[string]bool) bool {
	for _, id := range g.TerminalNodeIDs() {
		if completed[id] {
			return true
		}
	}
	return false
}
