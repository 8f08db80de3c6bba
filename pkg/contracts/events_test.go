package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventConstructors(t *testing.T) {
	completed := NewNodeCompleted("inst-1", "charge", map[string]any{"paid": true}, 1500*time.Millisecond)
	assert.Equal(t, EventNodeCompleted, completed.Type)
	assert.Equal(t, "inst-1", completed.InstanceID)
	assert.Equal(t, "charge", completed.NodeID)
	assert.Equal(t, int64(1500), completed.Payload["duration_ms"])
	assert.Equal(t, map[string]any{"paid": true}, completed.Payload["result"])

	failed := NewNodeFailed("inst-1", "charge", "ACTION_FAILED", "gateway timeout", 2, true)
	assert.Equal(t, EventNodeFailed, failed.Type)
	assert.True(t, failed.Retryable())
	assert.Equal(t, 2, failed.RetryCount())

	approval := NewApproval("inst-1", "review", "carol", ApprovalRejected, "missing documents")
	assert.Equal(t, EventApproval, approval.Type)
	assert.Equal(t, ApprovalRejected, approval.ApprovalDecision())
	assert.Equal(t, "carol", approval.Payload["approver"])
}

func TestNewDomainEvent_MergesPayload(t *testing.T) {
	ev := NewDomainEvent("OrderShipped", "corr-7", "ship", map[string]any{"carrier": "dhl"})

	assert.Equal(t, EventDomainEvent, ev.Type)
	assert.Equal(t, "corr-7", ev.CorrelationID)
	assert.Equal(t, "OrderShipped", ev.DomainEventType())
	assert.Equal(t, "ship", ev.Payload["source_node_id"])
	assert.Equal(t, "dhl", ev.Payload["carrier"])
}

func TestEvent_MatchType(t *testing.T) {
	domain := NewDomainEvent("OrderShipped", "", "", nil)
	assert.True(t, domain.MatchType("OrderShipped"))
	assert.True(t, domain.MatchType(string(EventDomainEvent)))
	assert.False(t, domain.MatchType("OrderCancelled"))

	timer := NewTimerExpired("inst-1", "ob-1", TimerDeadline, time.Now(), "ob-1")
	assert.True(t, timer.MatchType(string(EventTimerExpired)))
	assert.False(t, timer.MatchType("OrderShipped"))
}

func TestEvent_HistoryType(t *testing.T) {
	domain := NewDomainEvent("OrderShipped", "", "", nil)
	assert.Equal(t, EventType("OrderShipped"), domain.HistoryType())

	// A domain event without a type falls back to the variant.
	bare := Event{Type: EventDomainEvent}
	assert.Equal(t, EventDomainEvent, bare.HistoryType())

	timer := NewTimerExpired("inst-1", "ob-1", TimerSLA, time.Now(), "ob-1")
	assert.Equal(t, EventTimerExpired, timer.HistoryType())
}

func TestExecutionContext_RecordAndQuery(t *testing.T) {
	ec := NewExecutionContext()
	ev := NewDomainEvent("OrderShipped", "corr-7", "ship", nil)
	ec.RecordEvent(ev)

	require.Len(t, ec.EventHistory, 1)
	assert.Equal(t, EventType("OrderShipped"), ec.EventHistory[0].EventType)
	assert.Equal(t, "corr-7", ec.EventHistory[0].CorrelationID)
	assert.True(t, ec.HasEvent("OrderShipped"))
	assert.False(t, ec.HasEvent("OrderCancelled"))
}

func TestObligation_Overdue(t *testing.T) {
	deadline := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ob := Obligation{ID: "ob-1", Deadline: deadline}

	assert.False(t, ob.Overdue(deadline.Add(-time.Minute)))
	assert.True(t, ob.Overdue(deadline.Add(time.Minute)))

	ob.Satisfied = true
	assert.False(t, ob.Overdue(deadline.Add(time.Minute)))
}
