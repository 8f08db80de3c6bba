package contracts

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies an event variant.
type EventType string

const (
	EventDataChange    EventType = "DataChange"
	EventApproval      EventType = "Approval"
	EventFailure       EventType = "Failure"
	EventTimerExpired  EventType = "TimerExpired"
	EventPolicyUpdate  EventType = "PolicyUpdate"
	EventNodeCompleted EventType = "NodeCompleted"
	EventNodeFailed    EventType = "NodeFailed"
	EventDomainEvent   EventType = "DomainEvent"
)

// Approval decision values.
const (
	ApprovalApproved  = "APPROVED"
	ApprovalRejected  = "REJECTED"
	ApprovalEscalated = "ESCALATED"
	ApprovalDeferred  = "DEFERRED"
)

// Timer type values for TimerExpired events.
const (
	TimerSLA        = "SLA"
	TimerDeadline   = "DEADLINE"
	TimerReminder   = "REMINDER"
	TimerEscalation = "ESCALATION"
)

// Event is the envelope the orchestrator routes. The variant-specific fields
// live in Payload; InstanceID and NodeID are lifted out because routing and
// correlation depend on them.
type Event struct {
	EventID       string         `json:"event_id"`
	Type          EventType      `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	InstanceID    string         `json:"instance_id,omitempty"`
	NodeID        string         `json:"node_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NewNodeCompleted builds the completion event the orchestrator emits after
// a node's action succeeds, or that an external handler reports for an
// asynchronous action.
func NewNodeCompleted(instanceID, nodeID string, result map[string]any, duration time.Duration) Event {
	return Event{
		EventID:    uuid.New().String(),
		Type:       EventNodeCompleted,
		Timestamp:  time.Now(),
		InstanceID: instanceID,
		NodeID:     nodeID,
		Payload: map[string]any{
			"result":      result,
			"duration_ms": duration.Milliseconds(),
		},
	}
}

// NewNodeFailed builds the failure event that re-triggers evaluation,
// carrying the retry budget state.
func NewNodeFailed(instanceID, nodeID, errorType, errorMessage string, retryCount int, retryable bool) Event {
	return Event{
		EventID:    uuid.New().String(),
		Type:       EventNodeFailed,
		Timestamp:  time.Now(),
		InstanceID: instanceID,
		NodeID:     nodeID,
		Payload: map[string]any{
			"error_type":    errorType,
			"error_message": errorMessage,
			"retry_count":   retryCount,
			"retryable":     retryable,
		},
	}
}

// NewApproval builds a human approval event correlated to a waiting node.
func NewApproval(instanceID, nodeID, approver, decision, comments string) Event {
	return Event{
		EventID:    uuid.New().String(),
		Type:       EventApproval,
		Timestamp:  time.Now(),
		InstanceID: instanceID,
		NodeID:     nodeID,
		Payload: map[string]any{
			"approver": approver,
			"decision": decision,
			"comments": comments,
		},
	}
}

// NewTimerExpired builds the event the periodic sweep synthesizes for an
// overdue obligation.
func NewTimerExpired(instanceID, timerID, timerType string, originalDeadline time.Time, obligationID string) Event {
	return Event{
		EventID:    uuid.New().String(),
		Type:       EventTimerExpired,
		Timestamp:  time.Now(),
		InstanceID: instanceID,
		Payload: map[string]any{
			"timer_id":          timerID,
			"timer_type":        timerType,
			"original_deadline": originalDeadline,
			"obligation_id":     obligationID,
		},
	}
}

// NewDomainEvent builds a business event, optionally correlated.
func NewDomainEvent(domainEventType, correlationID, sourceNodeID string, payload map[string]any) Event {
	merged := map[string]any{"domain_event_type": domainEventType}
	if sourceNodeID != "" {
		merged["source_node_id"] = sourceNodeID
	}
	for k, v := range payload {
		merged[k] = v
	}
	return Event{
		EventID:       uuid.New().String(),
		Type:          EventDomainEvent,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		Payload:       merged,
	}
}

// NewDataChange builds a data-change event.
func NewDataChange(entityType, entityID, changeType string, changedFields []string, payload map[string]any) Event {
	return Event{
		EventID:   uuid.New().String(),
		Type:      EventDataChange,
		Timestamp: time.Now(),
		Payload: map[string]any{
			"entity_type":    entityType,
			"entity_id":      entityID,
			"change_type":    changeType,
			"changed_fields": changedFields,
			"payload":        payload,
		},
	}
}

// Retryable reads the retryable flag of NodeFailed/Failure payloads.
func (e Event) Retryable() bool {
	v, _ := e.Payload["retryable"].(bool)
	return v
}

// RetryCount reads the retry counter of NodeFailed payloads.
func (e Event) RetryCount() int {
	switch v := e.Payload["retry_count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// ApprovalDecision reads the decision of Approval payloads.
func (e Event) ApprovalDecision() string {
	v, _ := e.Payload["decision"].(string)
	return v
}

// DomainEventType reads the business event type of DomainEvent payloads.
func (e Event) DomainEventType() string {
	v, _ := e.Payload["domain_event_type"].(string)
	return v
}

// MatchType reports whether the event matches a subscription string: the
// variant name for system events, or the domain event type for DomainEvent.
func (e Event) MatchType(sub string) bool {
	if string(e.Type) == sub {
		return true
	}
	return e.Type == EventDomainEvent && e.DomainEventType() == sub
}

// HistoryType is the type recorded in the event history and matched by edge
// event guards: the domain event type for DomainEvent, the variant otherwise.
func (e Event) HistoryType() EventType {
	if e.Type == EventDomainEvent {
		if t := e.DomainEventType(); t != "" {
			return EventType(t)
		}
	}
	return e.Type
}
