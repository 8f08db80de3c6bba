package fixtures

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/executor"
	"github.com/pathwise-io/pathwise/pkg/expr"
	"github.com/pathwise-io/pathwise/pkg/graph"
	"github.com/pathwise-io/pathwise/pkg/runtime"
)

func TestOnboardingGraph_IsValid(t *testing.T) {
	parser, err := expr.NewCELEvaluator()
	require.NoError(t, err)

	g := graph.New(OnboardingGraph())
	errs := g.Validate(parser)
	assert.Empty(t, errs)
}

func TestOnboardingGraph_Shape(t *testing.T) {
	def := OnboardingGraph()

	assert.Equal(t, "employee-onboarding", def.ID)
	assert.Equal(t, contracts.GraphPublished, def.Status)
	assert.Equal(t, []string{NodeCollectInfo}, def.EntryNodeIDs)
	assert.ElementsMatch(t, []string{NodeOnboarded, NodeCancelled}, def.TerminalNodeIDs)
	assert.Len(t, def.Nodes, 10)
}

func TestBindHandlers_CoversEverySystemInvocation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := executor.NewSystemInvocationExecutor(logger)
	BindHandlers(exec)

	def := OnboardingGraph()
	inst := contracts.NewProcessInstance(def.ID, def.Version, "", contracts.NewExecutionContext())
	for _, node := range def.Nodes {
		if node.Action.Type != contracts.ActionSystemInvocation {
			continue
		}
		n := node
		res, err := exec.Execute(context.Background(), &n, inst, runtime.Context{})
		require.NoError(t, err, "handler %s", node.Action.HandlerRef)
		assert.Equal(t, contracts.ActionSuccess, res.Status, "handler %s", node.Action.HandlerRef)
	}
}

func TestBindHandlers_BackgroundCheckReadsDomainRisk(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := executor.NewSystemInvocationExecutor(logger)
	BindHandlers(exec)

	def := OnboardingGraph()
	var check contracts.Node
	for _, node := range def.Nodes {
		if node.ID == NodeBackgroundCheck {
			check = node
		}
	}
	inst := contracts.NewProcessInstance(def.ID, def.Version, "", contracts.NewExecutionContext())

	rctx := runtime.Context{ExecutionContext: contracts.NewExecutionContext()}
	rctx.Domain["risk_score"] = 85
	res, err := exec.Execute(context.Background(), &check, inst, rctx)
	require.NoError(t, err)
	assert.Equal(t, 85, res.Output["risk_score"])

	res, err = exec.Execute(context.Background(), &check, inst, runtime.Context{ExecutionContext: contracts.NewExecutionContext()})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Output["risk_score"])
}
