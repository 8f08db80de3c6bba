// Package fixtures provides ready-made process graphs for demos and tests:
// an employee onboarding flow exercising sequential routing, risk-based
// branching, parallel fan-out with an ALL join, and exclusive cancellation.
package fixtures

import (
	"context"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/executor"
	"github.com/pathwise-io/pathwise/pkg/runtime"
)

// Node IDs of the onboarding graph.
const (
	NodeCollectInfo         = "collect_info"
	NodeBackgroundCheck     = "background_check"
	NodeAnalyzeBackground   = "analyze_background"
	NodeManualReview        = "manual_review"
	NodeOrderEquipment      = "order_equipment"
	NodeCreateAccounts      = "create_accounts"
	NodeCollectDocuments    = "collect_documents"
	NodeScheduleOrientation = "schedule_orientation"
	NodeOnboarded           = "onboarded"
	NodeCancelled           = "cancelled"
)

// OnboardingGraph builds the onboarding process: collect info, run a
// background check, assess its risk, then either fan out the provisioning
// tasks in parallel or detour through manual review. Rejected reviews take
// the exclusive edge to CANCELLED.
func OnboardingGraph() contracts.GraphDef {
	return contracts.GraphDef{
		ID:      "employee-onboarding",
		Version: "1.2.0",
		Status:  contracts.GraphPublished,
		Nodes: []contracts.Node{
			{
				ID:   NodeCollectInfo,
				Name: "Collect employee information",
				Action: contracts.ActionSpec{
					Type:       contracts.ActionHumanTask,
					HandlerRef: "hr.collect_info",
				},
			},
			{
				ID:            NodeBackgroundCheck,
				Name:          "Run background check",
				Preconditions: []string{`entity.collect_info.employee_id != ""`},
				Action: contracts.ActionSpec{
					Type:       contracts.ActionSystemInvocation,
					HandlerRef: "screening.background_check",
					Config: contracts.ActionConfig{
						TimeoutSeconds: 120,
						Inputs:         []string{"domain", "entity"},
					},
				},
				Events: contracts.EventConfig{Emits: []string{"BackgroundCheckCompleted"}},
			},
			{
				ID:   NodeAnalyzeBackground,
				Name: "Analyze background check",
				Rules: []contracts.BusinessRule{
					{ID: "low_risk", Expression: `entity.background_check.risk_score < 70`},
					{ID: "high_risk", Expression: `entity.background_check.risk_score >= 70`},
				},
				Action: contracts.ActionSpec{
					Type:       contracts.ActionAgentAssisted,
					HandlerRef: "ai.analyze_background",
				},
				Events: contracts.EventConfig{Emits: []string{"AiAnalysisCompleted"}},
			},
			{
				ID:   NodeManualReview,
				Name: "Manual compliance review",
				PolicyGates: []contracts.PolicyGate{
					{
						ID:         "reviewer-present",
						Type:       contracts.PolicyStatutory,
						Expression: `client.reviewer_pool_size > 0`,
					},
				},
				RequiredPermissions: []string{"onboarding:review"},
				Action: contracts.ActionSpec{
					Type:       contracts.ActionHumanTask,
					HandlerRef: "compliance.review",
				},
			},
			{
				ID:   NodeOrderEquipment,
				Name: "Order equipment",
				Action: contracts.ActionSpec{
					Type:       contracts.ActionSystemInvocation,
					HandlerRef: "it.order_equipment",
				},
			},
			{
				ID:   NodeCreateAccounts,
				Name: "Create accounts",
				Action: contracts.ActionSpec{
					Type:       contracts.ActionSystemInvocation,
					HandlerRef: "it.create_accounts",
				},
			},
			{
				ID:   NodeCollectDocuments,
				Name: "Collect signed documents",
				Action: contracts.ActionSpec{
					Type:       contracts.ActionSystemInvocation,
					HandlerRef: "hr.collect_documents",
				},
			},
			{
				ID:   NodeScheduleOrientation,
				Name: "Schedule orientation",
				Action: contracts.ActionSpec{
					Type:       contracts.ActionSystemInvocation,
					HandlerRef: "hr.schedule_orientation",
				},
			},
			{
				ID:   NodeOnboarded,
				Name: "Onboarding complete",
				Action: contracts.ActionSpec{
					Type:       contracts.ActionSystemInvocation,
					HandlerRef: "hr.notify_complete",
				},
				Events: contracts.EventConfig{Emits: []string{"EmployeeOnboarded"}},
			},
			{
				ID:   NodeCancelled,
				Name: "Onboarding cancelled",
				Action: contracts.ActionSpec{
					Type:       contracts.ActionSystemInvocation,
					HandlerRef: "hr.notify_cancelled",
				},
			},
		},
		Edges: []contracts.Edge{
			{
				ID:           "e_info_check",
				SourceNodeID: NodeCollectInfo,
				TargetNodeID: NodeBackgroundCheck,
				Semantics:    contracts.ExecutionSemantics{Type: contracts.SemanticsSequential},
				Priority:     contracts.Priority{Weight: 10},
			},
			{
				ID:           "e_check_analyze",
				SourceNodeID: NodeBackgroundCheck,
				TargetNodeID: NodeAnalyzeBackground,
				Guards: contracts.EdgeGuards{
					Context: []string{`entity.background_check.status == "COMPLETED"`},
				},
				Semantics: contracts.ExecutionSemantics{Type: contracts.SemanticsSequential},
				Priority:  contracts.Priority{Weight: 10},
			},
			{
				ID:           "e_analyze_review",
				SourceNodeID: NodeAnalyzeBackground,
				TargetNodeID: NodeManualReview,
				Guards:       contracts.EdgeGuards{Rule: []string{"high_risk"}},
				Semantics:    contracts.ExecutionSemantics{Type: contracts.SemanticsSequential},
				Priority:     contracts.Priority{Weight: 20},
			},
			{
				ID:           "e_analyze_equipment",
				SourceNodeID: NodeAnalyzeBackground,
				TargetNodeID: NodeOrderEquipment,
				Guards:       contracts.EdgeGuards{Rule: []string{"low_risk"}},
				// ANY join: the provisioning nodes are reachable from either
				// the analysis or the review branch, never both.
				Semantics: contracts.ExecutionSemantics{Type: contracts.SemanticsParallel, JoinType: contracts.JoinAny},
				Priority:  contracts.Priority{Weight: 10, Rank: 1},
			},
			{
				ID:           "e_analyze_accounts",
				SourceNodeID: NodeAnalyzeBackground,
				TargetNodeID: NodeCreateAccounts,
				Guards:       contracts.EdgeGuards{Rule: []string{"low_risk"}},
				Semantics:    contracts.ExecutionSemantics{Type: contracts.SemanticsParallel, JoinType: contracts.JoinAny},
				Priority:     contracts.Priority{Weight: 10, Rank: 2},
			},
			{
				ID:           "e_analyze_documents",
				SourceNodeID: NodeAnalyzeBackground,
				TargetNodeID: NodeCollectDocuments,
				Guards:       contracts.EdgeGuards{Rule: []string{"low_risk"}},
				Semantics:    contracts.ExecutionSemantics{Type: contracts.SemanticsParallel, JoinType: contracts.JoinAny},
				Priority:     contracts.Priority{Weight: 10, Rank: 3},
			},
			{
				ID:           "e_review_equipment",
				SourceNodeID: NodeManualReview,
				TargetNodeID: NodeOrderEquipment,
				Guards: contracts.EdgeGuards{
					Context: []string{`entity.manual_review.decision == "APPROVED"`},
				},
				Semantics: contracts.ExecutionSemantics{Type: contracts.SemanticsParallel, JoinType: contracts.JoinAny},
				Priority:  contracts.Priority{Weight: 10, Rank: 1},
			},
			{
				ID:           "e_review_accounts",
				SourceNodeID: NodeManualReview,
				TargetNodeID: NodeCreateAccounts,
				Guards: contracts.EdgeGuards{
					Context: []string{`entity.manual_review.decision == "APPROVED"`},
				},
				Semantics: contracts.ExecutionSemantics{Type: contracts.SemanticsParallel, JoinType: contracts.JoinAny},
				Priority:  contracts.Priority{Weight: 10, Rank: 2},
			},
			{
				ID:           "e_review_documents",
				SourceNodeID: NodeManualReview,
				TargetNodeID: NodeCollectDocuments,
				Guards: contracts.EdgeGuards{
					Context: []string{`entity.manual_review.decision == "APPROVED"`},
				},
				Semantics: contracts.ExecutionSemantics{Type: contracts.SemanticsParallel, JoinType: contracts.JoinAny},
				Priority:  contracts.Priority{Weight: 10, Rank: 3},
			},
			{
				ID:           "e_review_cancel",
				SourceNodeID: NodeManualReview,
				TargetNodeID: NodeCancelled,
				Guards: contracts.EdgeGuards{
					Context: []string{`entity.manual_review.decision == "REJECTED"`},
				},
				Semantics: contracts.ExecutionSemantics{Type: contracts.SemanticsSequential},
				Priority:  contracts.Priority{Weight: 100, Exclusive: true},
			},
			{
				ID:           "e_equipment_orientation",
				SourceNodeID: NodeOrderEquipment,
				TargetNodeID: NodeScheduleOrientation,
				Semantics: contracts.ExecutionSemantics{
					Type:     contracts.SemanticsParallel,
					JoinType: contracts.JoinAll,
				},
				Priority: contracts.Priority{Weight: 10, Rank: 1},
			},
			{
				ID:           "e_accounts_orientation",
				SourceNodeID: NodeCreateAccounts,
				TargetNodeID: NodeScheduleOrientation,
				Semantics: contracts.ExecutionSemantics{
					Type:     contracts.SemanticsParallel,
					JoinType: contracts.JoinAll,
				},
				Priority: contracts.Priority{Weight: 10, Rank: 2},
			},
			{
				ID:           "e_documents_orientation",
				SourceNodeID: NodeCollectDocuments,
				TargetNodeID: NodeScheduleOrientation,
				Semantics: contracts.ExecutionSemantics{
					Type:     contracts.SemanticsParallel,
					JoinType: contracts.JoinAll,
				},
				Priority: contracts.Priority{Weight: 10, Rank: 3},
			},
			{
				ID:           "e_orientation_onboarded",
				SourceNodeID: NodeScheduleOrientation,
				TargetNodeID: NodeOnboarded,
				Semantics:    contracts.ExecutionSemantics{Type: contracts.SemanticsSequential},
				Priority:     contracts.Priority{Weight: 10},
			},
		},
		EntryNodeIDs:    []string{NodeCollectInfo},
		TerminalNodeIDs: []string{NodeOnboarded, NodeCancelled},
		Metadata:        map[string]string{"owner": "people-ops"},
	}
}

// BindHandlers registers deterministic handlers for every system invocation
// in the onboarding graph. The background check reads "risk_score" from the
// domain compartment so callers steer the branch.
func BindHandlers(exec *executor.SystemInvocationExecutor) {
	exec.Bind("screening.background_check", func(_ context.Context, _ map[string]any, rctx runtime.Context) (map[string]any, error) {
		risk := 10
		if v, ok := rctx.Domain["risk_score"].(int); ok {
			risk = v
		}
		return map[string]any{"status": "COMPLETED", "risk_score": risk}, nil
	})
	exec.Bind("it.order_equipment", staticOutput(map[string]any{"ordered": true}))
	exec.Bind("it.create_accounts", staticOutput(map[string]any{"accounts_created": true}))
	exec.Bind("hr.collect_documents", staticOutput(map[string]any{"documents_collected": true}))
	exec.Bind("hr.schedule_orientation", staticOutput(map[string]any{"scheduled": true}))
	exec.Bind("hr.notify_complete", staticOutput(map[string]any{"notified": true}))
	exec.Bind("hr.notify_cancelled", staticOutput(map[string]any{"notified": true}))
}

func staticOutput(output map[string]any) executor.Handler {
	return func(_ context.Context, _ map[string]any, _ runtime.Context) (map[string]any, error) {
		return output, nil
	}
}
