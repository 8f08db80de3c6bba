// Package store defines the persistence ports for graphs, instances,
// decision traces and idempotency records, with in-memory, PostgreSQL,
// SQLite and Redis implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// GraphRepository persists versioned process graph definitions.
type GraphRepository interface {
	Get(ctx context.Context, graphID, version string) (*contracts.GraphDef, error)
	// GetLatest returns the highest published semantic version of a graph.
	GetLatest(ctx context.Context, graphID string) (*contracts.GraphDef, error)
	List(ctx context.Context) ([]*contracts.GraphDef, error)
	Store(ctx context.Context, def *contracts.GraphDef) error
}

// InstanceRepository persists process instances. Save overwrites the full
// instance state; callers hold the per-instance lock while mutating.
type InstanceRepository interface {
	Get(ctx context.Context, instanceID string) (*contracts.ProcessInstance, error)
	Save(ctx context.Context, instance *contracts.ProcessInstance) error
	// ListActive returns instances that are not in a terminal status.
	ListActive(ctx context.Context) ([]*contracts.ProcessInstance, error)
	// ListByGraph returns all instances of one graph definition.
	ListByGraph(ctx context.Context, graphID string) ([]*contracts.ProcessInstance, error)
}

// TraceRepository persists immutable decision traces. Traces are append
// only; there is no update path.
type TraceRepository interface {
	Append(ctx context.Context, trace *contracts.DecisionTrace) error
	Get(ctx context.Context, traceID string) (*contracts.DecisionTrace, error)
	ListByInstance(ctx context.Context, instanceID string, limit int) ([]*contracts.DecisionTrace, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExecutionRecord is what an idempotency key maps to: enough to report the
// prior execution on a duplicate attempt.
type ExecutionRecord struct {
	Key        string    `json:"key"`
	InstanceID string    `json:"instance_id"`
	NodeID     string    `json:"node_id"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recorded_at"`
}

// IdempotencyStore remembers completed executions by deterministic key.
// PutIfAbsent is the only write path and reports whether the key was newly
// claimed, so concurrent duplicates resolve to exactly one winner.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*ExecutionRecord, error)
	PutIfAbsent(ctx context.Context, record *ExecutionRecord, ttl time.Duration) (bool, error)
}
