package contracts

import "time"

// SystemState is the operational posture carried in the context.
type SystemState string

const (
	SystemNormal      SystemState = "NORMAL"
	SystemDegraded    SystemState = "DEGRADED"
	SystemMaintenance SystemState = "MAINTENANCE"
	SystemEmergency   SystemState = "EMERGENCY"
)

// Obligation is a deadline-bearing commitment in the operational compartment.
type Obligation struct {
	ID        string    `json:"id"`
	Deadline  time.Time `json:"deadline"`
	Satisfied bool      `json:"satisfied"`
}

// Overdue reports whether the obligation is unsatisfied past its deadline.
func (o Obligation) Overdue(now time.Time) bool {
	return !o.Satisfied && now.After(o.Deadline)
}

// OperationalContext carries system posture and open obligations.
type OperationalContext struct {
	SystemState SystemState  `json:"system_state"`
	Obligations []Obligation `json:"obligations,omitempty"`
}

// EventRecord is the compact form of an event kept in the history.
type EventRecord struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// ExecutionContext is the five-compartment context owned by an instance.
// EntityState accumulates per-node outputs keyed by node ID.
type ExecutionContext struct {
	Client       map[string]any            `json:"client,omitempty"`
	Domain       map[string]any            `json:"domain,omitempty"`
	EntityState  map[string]map[string]any `json:"entity_state,omitempty"`
	Operational  OperationalContext        `json:"operational"`
	EventHistory []EventRecord             `json:"event_history,omitempty"`
}

// NewExecutionContext returns an empty context in NORMAL state.
func NewExecutionContext() ExecutionContext {
	return ExecutionContext{
		Client:      map[string]any{},
		Domain:      map[string]any{},
		EntityState: map[string]map[string]any{},
		Operational: OperationalContext{SystemState: SystemNormal},
	}
}

// Clone deep-copies the context so snapshots never tear.
func (c ExecutionContext) Clone() ExecutionContext {
	out := ExecutionContext{
		Client:      cloneMap(c.Client),
		Domain:      cloneMap(c.Domain),
		EntityState: map[string]map[string]any{},
		Operational: OperationalContext{
			SystemState: c.Operational.SystemState,
			Obligations: append([]Obligation(nil), c.Operational.Obligations...),
		},
		EventHistory: append([]EventRecord(nil), c.EventHistory...),
	}
	for k, v := range c.EntityState {
		out.EntityState[k] = cloneMap(v)
	}
	return out
}

// RecordEvent appends an event to the history.
func (c *ExecutionContext) RecordEvent(ev Event) {
	c.EventHistory = append(c.EventHistory, EventRecord{
		EventID:       ev.EventID,
		EventType:     ev.HistoryType(),
		Timestamp:     ev.Timestamp,
		CorrelationID: ev.CorrelationID,
	})
}

// HasEvent reports whether an event of the given type is in the history.
func (c ExecutionContext) HasEvent(eventType string) bool {
	for _, rec := range c.EventHistory {
		if string(rec.EventType) == eventType {
			return true
		}
	}
	return false
}

// SetNodeOutput stores a node's output in the entity compartment.
func (c *ExecutionContext) SetNodeOutput(nodeID string, output map[string]any) {
	if c.EntityState == nil {
		c.EntityState = map[string]map[string]any{}
	}
	c.EntityState[nodeID] = cloneMap(output)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}
