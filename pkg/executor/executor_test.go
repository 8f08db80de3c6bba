package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/runtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInstance() *contracts.ProcessInstance {
	return &contracts.ProcessInstance{ID: "inst-1", GraphID: "flow", GraphVersion: "1.0.0"}
}

func testContext() runtime.Context {
	return runtime.Context{ExecutionContext: contracts.NewExecutionContext()}
}

func systemNode(handlerRef string) *contracts.Node {
	return &contracts.Node{
		ID:   "step",
		Name: "Step",
		Action: contracts.ActionSpec{
			Type:       contracts.ActionSystemInvocation,
			HandlerRef: handlerRef,
		},
	}
}

func successExecutor(output map[string]any) ExecutorFunc {
	return func(context.Context, *contracts.Node, *contracts.ProcessInstance, runtime.Context) (contracts.ActionResult, error) {
		return contracts.ActionResult{Status: contracts.ActionSuccess, Output: output}, nil
	}
}

func TestRegistry_RefBindingWinsOverTypeFallback(t *testing.T) {
	r := NewRegistry()
	r.RegisterType(contracts.ActionSystemInvocation, successExecutor(map[string]any{"source": "type"}))
	r.Register(contracts.ActionSystemInvocation, "billing.charge", successExecutor(map[string]any{"source": "ref"}))

	result, err := r.Execute(context.Background(), systemNode("billing.charge"), testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "ref", result.Output["source"])

	result, err = r.Execute(context.Background(), systemNode("billing.refund"), testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "type", result.Output["source"])
}

func TestRegistry_UnresolvedActionFails(t *testing.T) {
	r := NewRegistry()

	result, err := r.Execute(context.Background(), systemNode("nobody.home"), testInstance(), testContext())
	require.Error(t, err)
	assert.True(t, contracts.IsKind(err, contracts.KindActionFailed))
	assert.Equal(t, contracts.ActionFailure, result.Status)
}

func TestRegistry_TimeoutReportsRetryableFailure(t *testing.T) {
	r := NewRegistry()
	r.RegisterType(contracts.ActionSystemInvocation, ExecutorFunc(
		func(ctx context.Context, _ *contracts.Node, _ *contracts.ProcessInstance, _ runtime.Context) (contracts.ActionResult, error) {
			<-ctx.Done()
			return contracts.ActionResult{}, ctx.Err()
		}))
	node := systemNode("slow.call")
	node.Action.Config.TimeoutSeconds = 1

	start := time.Now()
	result, err := r.Execute(context.Background(), node, testInstance(), testContext())
	require.Error(t, err)
	assert.True(t, contracts.IsKind(err, contracts.KindTimeout))
	assert.Equal(t, contracts.ActionFailure, result.Status)
	assert.True(t, result.Retryable)
	assert.Contains(t, result.Error, "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSystemInvocationExecutor(t *testing.T) {
	exec := NewSystemInvocationExecutor(testLogger())
	exec.Bind("screening.check", func(_ context.Context, params map[string]any, _ runtime.Context) (map[string]any, error) {
		return map[string]any{"checked": params["subject"]}, nil
	})
	exec.Bind("screening.flaky", func(context.Context, map[string]any, runtime.Context) (map[string]any, error) {
		return nil, errors.New("upstream 503")
	})

	node := systemNode("screening.check")
	node.Action.Config.Params = map[string]any{"subject": "alice"}
	result, err := exec.Execute(context.Background(), node, testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionSuccess, result.Status)
	assert.Equal(t, "alice", result.Output["checked"])

	// Handler failures surface as retryable FAILURE values, not errors.
	result, err = exec.Execute(context.Background(), systemNode("screening.flaky"), testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionFailure, result.Status)
	assert.True(t, result.Retryable)

	result, err = exec.Execute(context.Background(), systemNode("screening.unbound"), testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionFailure, result.Status)
	assert.Contains(t, result.Error, "no handler bound")
}

func TestPendingTaskExecutor_PublishesWorkItem(t *testing.T) {
	sink := NewMemoryTaskSink()
	exec := NewPendingTaskExecutor(sink, testLogger())
	node := &contracts.Node{
		ID:   "review",
		Name: "Manual Review",
		Action: contracts.ActionSpec{
			Type:       contracts.ActionHumanTask,
			HandlerRef: "hr.review",
			Config:     contracts.ActionConfig{Params: map[string]any{"queue": "reviews"}},
		},
	}

	result, err := exec.Execute(context.Background(), node, testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionPending, result.Status)

	items := sink.Items()
	require.Len(t, items, 1)
	assert.Equal(t, WorkItem{
		InstanceID: "inst-1",
		NodeID:     "review",
		NodeName:   "Manual Review",
		ActionType: string(contracts.ActionHumanTask),
		HandlerRef: "hr.review",
		Params:     map[string]any{"queue": "reviews"},
	}, items[0])
}

type failingSink struct{}

func (failingSink) Publish(context.Context, WorkItem) error {
	return errors.New("broker unavailable")
}

func TestPendingTaskExecutor_SinkFailureIsRetryable(t *testing.T) {
	exec := NewPendingTaskExecutor(failingSink{}, testLogger())
	node := &contracts.Node{ID: "review", Action: contracts.ActionSpec{Type: contracts.ActionHumanTask}}

	result, err := exec.Execute(context.Background(), node, testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionFailure, result.Status)
	assert.True(t, result.Retryable)
}

type fakeLauncher struct {
	launched []string
	fail     bool
}

func (l *fakeLauncher) Launch(_ context.Context, graphID, _ string, _ contracts.ExecutionContext) (string, error) {
	if l.fail {
		return "", errors.New("graph not found")
	}
	l.launched = append(l.launched, graphID)
	return fmt.Sprintf("child-%d", len(l.launched)), nil
}

func TestCompositeExecutor_LaunchesChildren(t *testing.T) {
	launcher := &fakeLauncher{}
	exec := NewCompositeExecutor(launcher, testLogger())
	node := &contracts.Node{
		ID: "subflows",
		Action: contracts.ActionSpec{
			Type:   contracts.ActionComposite,
			Config: contracts.ActionConfig{ChildRefs: []string{"kyc-check", "credit-check"}},
		},
	}

	result, err := exec.Execute(context.Background(), node, testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionPending, result.Status)
	assert.Equal(t, []string{"kyc-check", "credit-check"}, launcher.launched)
	assert.Equal(t, []string{"child-1", "child-2"}, result.Output["child_instance_ids"])
}

func TestCompositeExecutor_NoChildRefsFails(t *testing.T) {
	exec := NewCompositeExecutor(&fakeLauncher{}, testLogger())
	node := &contracts.Node{ID: "subflows", Action: contracts.ActionSpec{Type: contracts.ActionComposite}}

	result, err := exec.Execute(context.Background(), node, testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionFailure, result.Status)
	assert.Contains(t, result.Error, "no child refs")
}

func TestCompositeExecutor_LaunchFailureIsRetryable(t *testing.T) {
	exec := NewCompositeExecutor(&fakeLauncher{fail: true}, testLogger())
	node := &contracts.Node{
		ID: "subflows",
		Action: contracts.ActionSpec{
			Type:   contracts.ActionComposite,
			Config: contracts.ActionConfig{ChildRefs: []string{"kyc-check"}},
		},
	}

	result, err := exec.Execute(context.Background(), node, testInstance(), testContext())
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionFailure, result.Status)
	assert.True(t, result.Retryable)
}
