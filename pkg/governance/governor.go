// Package governance runs the pre-execution checks: idempotency,
// authorization and the runtime policy gate. The governor is fail-closed:
// any check it cannot complete denies the dispatch.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/expr"
	"github.com/pathwise-io/pathwise/pkg/runtime"
	"github.com/pathwise-io/pathwise/pkg/store"
)

// Config toggles individual checks and sets the execution-key TTL. Skips
// exist for graphs that carry their own guarantees; all checks default on.
type Config struct {
	SkipIdempotency   bool
	SkipAuthorization bool
	SkipPolicyGate    bool
	// IdempotencyTTL bounds how long an execution key blocks duplicates;
	// zero means the key never expires.
	IdempotencyTTL time.Duration
}

// Governor enforces the governance checks before any action dispatch.
type Governor struct {
	keys      store.IdempotencyStore
	eval      expr.Evaluator
	principal PrincipalResolver
	cfg       Config
	logger    *slog.Logger
	clock     func() time.Time
}

func NewGovernor(keys store.IdempotencyStore, eval expr.Evaluator, principal PrincipalResolver, cfg Config, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	if principal == nil {
		principal = ClientPrincipalResolver{}
	}
	return &Governor{
		keys:      keys,
		eval:      eval,
		principal: principal,
		cfg:       cfg,
		logger:    logger.With("component", "governor"),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for tests.
func (g *Governor) WithClock(clock func() time.Time) *Governor {
	g.clock = clock
	return g
}

// ExecutionKey derives the deterministic idempotency key for dispatching a
// node within an instance. The context fingerprint is scoped to the
// compartments the action declares as inputs.
func ExecutionKey(instance *contracts.ProcessInstance, node *contracts.Node, rctx runtime.Context) string {
	return runtime.HashCanonical(map[string]any{
		"instance_id": instance.ID,
		"node_id":     node.ID,
		"fingerprint": rctx.Fingerprint(node.Action.Config.Inputs),
	})
}

// Enforce runs the three checks in order and stops at the first failure.
// The returned result is always fully populated for the trace; the error is
// reserved for infrastructure faults the caller should surface.
func (g *Governor) Enforce(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context) contracts.GovernanceResult {
	result := contracts.GovernanceResult{
		Idempotency:   g.checkIdempotency(ctx, node, instance, rctx),
		Authorization: contracts.AuthorizationResult{Skipped: true, Passed: true},
		PolicyGate:    contracts.PolicyGateResult{Skipped: true, Passed: true},
	}
	if !result.Idempotency.Passed {
		result.Reason = result.Idempotency.Reason
		return result
	}

	result.Authorization = g.checkAuthorization(node, rctx)
	if !result.Authorization.Passed {
		result.Reason = result.Authorization.Reason
		return result
	}

	result.PolicyGate = g.checkPolicyGate(node, rctx)
	if !result.PolicyGate.Passed {
		result.Reason = result.PolicyGate.Reason
		return result
	}

	result.Approved = true
	return result
}

// RecordExecution claims the execution key after a successful dispatch so
// replayed events cannot re-run the action.
func (g *Governor) RecordExecution(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context, status contracts.ActionStatus) error {
	if g.cfg.SkipIdempotency || g.keys == nil {
		return nil
	}
	record := &store.ExecutionRecord{
		Key:        ExecutionKey(instance, node, rctx),
		InstanceID: instance.ID,
		NodeID:     node.ID,
		Status:     string(status),
		RecordedAt: g.clock(),
	}
	claimed, err := g.keys.PutIfAbsent(ctx, record, g.cfg.IdempotencyTTL)
	if err != nil {
		return fmt.Errorf("record execution key: %w", err)
	}
	if !claimed {
		g.logger.Warn("execution key already claimed",
			"instance_id", instance.ID, "node_id", node.ID)
	}
	return nil
}

func (g *Governor) checkIdempotency(ctx context.Context, node *contracts.Node, instance *contracts.ProcessInstance, rctx runtime.Context) contracts.IdempotencyResult {
	if g.cfg.SkipIdempotency || g.keys == nil {
		return contracts.IdempotencyResult{Passed: true, Skipped: true}
	}
	key := ExecutionKey(instance, node, rctx)
	prior, err := g.keys.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return contracts.IdempotencyResult{Passed: true, Key: key}
		}
		// Fail closed: an unreachable key store denies the dispatch rather
		// than risking a duplicate execution.
		g.logger.Error("idempotency store unavailable", "error", err,
			"instance_id", instance.ID, "node_id", node.ID)
		return contracts.IdempotencyResult{
			Passed: false,
			Key:    key,
			Reason: fmt.Sprintf("idempotency store unavailable: %v", err),
		}
	}
	return contracts.IdempotencyResult{
		Passed:              false,
		Key:                 key,
		PreviousExecutionID: prior.InstanceID + "/" + prior.NodeID,
		Reason: fmt.Sprintf("duplicate execution: node %s already ran at %s",
			node.ID, prior.RecordedAt.Format(time.RFC3339)),
	}
}

func (g *Governor) checkAuthorization(node *contracts.Node, rctx runtime.Context) contracts.AuthorizationResult {
	if g.cfg.SkipAuthorization {
		return contracts.AuthorizationResult{Passed: true, Skipped: true}
	}
	if len(node.RequiredPermissions) == 0 {
		return contracts.AuthorizationResult{Passed: true}
	}
	principal, perms, err := g.principal.Resolve(rctx)
	if err != nil {
		return contracts.AuthorizationResult{
			Passed: false,
			Reason: fmt.Sprintf("principal resolution failed: %v", err),
		}
	}
	granted := make(map[string]bool, len(perms))
	for _, p := range perms {
		granted[p] = true
	}
	var missing []string
	for _, required := range node.RequiredPermissions {
		if !granted[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return contracts.AuthorizationResult{
			Passed:    false,
			Principal: principal,
			Missing:   missing,
			Reason:    fmt.Sprintf("principal %s lacks permissions %v", principal, missing),
		}
	}
	return contracts.AuthorizationResult{Passed: true, Principal: principal}
}

func (g *Governor) checkPolicyGate(node *contracts.Node, rctx runtime.Context) contracts.PolicyGateResult {
	if g.cfg.SkipPolicyGate {
		return contracts.PolicyGateResult{Passed: true, Skipped: true}
	}
	if len(node.RuntimePolicies) == 0 {
		return contracts.PolicyGateResult{Passed: true}
	}
	bindings := rctx.Flatten()
	result := contracts.PolicyGateResult{}
	for _, policy := range node.RuntimePolicies {
		result.Checked = append(result.Checked, policy.ID)
		res, err := g.eval.Evaluate(policy.Expression, bindings)
		if err != nil {
			// Fail closed on evaluation errors.
			result.Failed = append(result.Failed, policy.ID)
			result.Reason = fmt.Sprintf("policy %s evaluation failed: %v", policy.ID, err)
			return result
		}
		if !expr.Truthy(res.Value) {
			result.Failed = append(result.Failed, policy.ID)
			result.Reason = fmt.Sprintf("policy %s denied execution", policy.ID)
			return result
		}
	}
	result.Passed = true
	return result
}
