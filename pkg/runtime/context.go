// Package runtime assembles the layered, immutable context snapshot a cycle
// evaluates against, and provides the canonical fingerprint used by
// idempotency keys and trace snapshots.
package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

// Context is the per-cycle snapshot: the instance's execution context plus
// the tenant and the event that triggered the cycle, if any.
type Context struct {
	contracts.ExecutionContext

	TenantID        string
	TriggeringEvent *contracts.Event
	AssembledAt     time.Time
}

// Flatten projects the context into the bindings the expression evaluator
// declares: client, domain, entity, operational, events, event.
func (c Context) Flatten() map[string]any {
	events := make([]any, 0, len(c.EventHistory))
	for _, rec := range c.EventHistory {
		events = append(events, map[string]any{
			"event_id":   rec.EventID,
			"event_type": string(rec.EventType),
			"timestamp":  rec.Timestamp.Unix(),
		})
	}

	obligations := make([]any, 0, len(c.Operational.Obligations))
	for _, o := range c.Operational.Obligations {
		obligations = append(obligations, map[string]any{
			"id":        o.ID,
			"deadline":  o.Deadline.Unix(),
			"satisfied": o.Satisfied,
		})
	}

	entity := make(map[string]any, len(c.EntityState))
	for nodeID, out := range c.EntityState {
		entity[nodeID] = out
	}

	bindings := map[string]any{
		"client": c.Client,
		"domain": c.Domain,
		"entity": entity,
		"operational": map[string]any{
			"system_state": string(c.Operational.SystemState),
			"obligations":  obligations,
		},
		"events": events,
	}
	if c.TriggeringEvent != nil {
		bindings["event"] = map[string]any{
			"event_id":   c.TriggeringEvent.EventID,
			"event_type": string(c.TriggeringEvent.HistoryType()),
			"node_id":    c.TriggeringEvent.NodeID,
			"payload":    c.TriggeringEvent.Payload,
		}
	}
	return bindings
}

// SeesEvent reports whether the event type is in the history or is the
// triggering event of the current cycle.
func (c Context) SeesEvent(eventType string) bool {
	if c.TriggeringEvent != nil && c.TriggeringEvent.MatchType(eventType) {
		return true
	}
	return c.HasEvent(eventType)
}

// Fingerprint hashes the named compartments through JCS so key order never
// changes the result. An empty compartment list fingerprints domain+entity.
func (c Context) Fingerprint(compartments []string) string {
	if len(compartments) == 0 {
		compartments = []string{"domain", "entity"}
	}
	flat := c.Flatten()
	subset := make(map[string]any, len(compartments))
	for _, name := range compartments {
		if v, ok := flat[name]; ok {
			subset[name] = v
		}
	}
	return HashCanonical(subset)
}

// HashCanonical returns the hex SHA-256 of the JCS canonical JSON of v.
func HashCanonical(v any) string {
	data, err := canonicalJSON(v)
	if err != nil {
		// Canonicalization only fails on unmarshalable values; hash the
		// error text so the key is still stable for the same failure.
		sum := sha256.Sum256([]byte(err.Error()))
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}
