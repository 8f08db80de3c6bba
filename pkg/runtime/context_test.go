package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

func sampleContext() Context {
	ec := contracts.NewExecutionContext()
	ec.Client["tenant_id"] = "acme"
	ec.Domain["order_total"] = 250
	ec.SetNodeOutput("validate", map[string]any{"ok": true})
	return Context{ExecutionContext: ec, TenantID: "acme"}
}

func TestFlatten_ProjectsCompartments(t *testing.T) {
	rctx := sampleContext()
	ev := contracts.NewApproval("i1", "review", "alice", contracts.ApprovalApproved, "")
	rctx.TriggeringEvent = &ev

	flat := rctx.Flatten()

	client := flat["client"].(map[string]any)
	assert.Equal(t, "acme", client["tenant_id"])

	entity := flat["entity"].(map[string]any)
	assert.Equal(t, map[string]any{"ok": true}, entity["validate"])

	operational := flat["operational"].(map[string]any)
	assert.Equal(t, "NORMAL", operational["system_state"])

	event := flat["event"].(map[string]any)
	assert.Equal(t, "Approval", event["event_type"])
	assert.Equal(t, "review", event["node_id"])
}

func TestFlatten_OmitsEventWithoutTrigger(t *testing.T) {
	flat := sampleContext().Flatten()
	_, ok := flat["event"]
	assert.False(t, ok)
}

func TestSeesEvent(t *testing.T) {
	rctx := sampleContext()
	recorded := contracts.NewDomainEvent("PaymentReceived", "c1", "", nil)
	rctx.ExecutionContext.RecordEvent(recorded)

	trigger := contracts.NewApproval("i1", "review", "alice", contracts.ApprovalApproved, "")
	rctx.TriggeringEvent = &trigger

	// Domain events match by their business type, the trigger by variant.
	assert.True(t, rctx.SeesEvent("PaymentReceived"))
	assert.True(t, rctx.SeesEvent("Approval"))
	assert.False(t, rctx.SeesEvent("TimerExpired"))
}

func TestFingerprint_StableAcrossKeyOrder(t *testing.T) {
	a := sampleContext()
	a.Domain["b"] = 2
	a.Domain["a"] = 1

	b := sampleContext()
	b.Domain["a"] = 1
	b.Domain["b"] = 2

	assert.Equal(t, a.Fingerprint(nil), b.Fingerprint(nil))
}

func TestFingerprint_ScopedToCompartments(t *testing.T) {
	base := sampleContext()
	changedClient := sampleContext()
	changedClient.Client["extra"] = "noise"

	// Default scope is domain+entity, so client changes do not move the key.
	assert.Equal(t, base.Fingerprint(nil), changedClient.Fingerprint(nil))
	assert.NotEqual(t, base.Fingerprint([]string{"client"}), changedClient.Fingerprint([]string{"client"}))

	changedDomain := sampleContext()
	changedDomain.Domain["order_total"] = 999
	assert.NotEqual(t, base.Fingerprint(nil), changedDomain.Fingerprint(nil))
}

func TestHashCanonical_Deterministic(t *testing.T) {
	h1 := HashCanonical(map[string]any{"x": 1, "y": []string{"a", "b"}})
	h2 := HashCanonical(map[string]any{"y": []string{"a", "b"}, "x": 1})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	assert.NotEqual(t, h1, HashCanonical(map[string]any{"x": 2, "y": []string{"a", "b"}}))
}

type fakeConfigSource struct {
	cfg map[string]any
	err error
}

func (f fakeConfigSource) LoadFor(_ context.Context, _ string) (map[string]any, error) {
	return f.cfg, f.err
}

func TestAssemble_LayersTenantConfig(t *testing.T) {
	source := fakeConfigSource{cfg: map[string]any{"tier": "gold", "tenant_id": "acme-override"}}
	assembler := NewAssembler(source).WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	})

	instance := contracts.NewProcessInstance("g", "1.0.0", "", contracts.NewExecutionContext())
	instance.Context.Client["tenant_id"] = "acme"

	rctx := assembler.Assemble(context.Background(), instance, "acme", nil)

	assert.Equal(t, "gold", rctx.Client["tier"])
	// Tenant config wins over the instance compartment.
	assert.Equal(t, "acme-override", rctx.Client["tenant_id"])
	assert.Equal(t, "acme", rctx.TenantID)
	assert.Equal(t, 2025, rctx.AssembledAt.Year())

	// The snapshot is detached from the instance.
	rctx.Client["mutation"] = true
	_, leaked := instance.Context.Client["mutation"]
	assert.False(t, leaked)
}

func TestAssemble_ConfigFailureDegrades(t *testing.T) {
	source := fakeConfigSource{err: errors.New("config service down")}
	assembler := NewAssembler(source)

	instance := contracts.NewProcessInstance("g", "1.0.0", "", contracts.NewExecutionContext())
	instance.Context.Client["tenant_id"] = "acme"

	rctx := assembler.Assemble(context.Background(), instance, "acme", nil)
	require.NotNil(t, rctx.Client)
	assert.Equal(t, "acme", rctx.Client["tenant_id"])
}

func TestStaticClientConfig(t *testing.T) {
	source := StaticClientConfig{"acme": {"tier": "gold"}}

	cfg, err := source.LoadFor(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "gold", cfg["tier"])

	cfg, err = source.LoadFor(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, cfg)
}
