// Package trace records the immutable decision trace emitted once per
// orchestration cycle, and prunes aged traces on a retention schedule.
package trace

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pathwise-io/pathwise/pkg/contracts"
	"github.com/pathwise-io/pathwise/pkg/runtime"
	"github.com/pathwise-io/pathwise/pkg/store"
)

// traceNamespace salts deterministic trace IDs.
var traceNamespace = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

// DefaultRetention is how long traces are kept when no retention is
// configured.
const DefaultRetention = 90 * 24 * time.Hour

// Tracer writes each cycle's trace to the log and, when a repository is
// configured, persists it. Recording never fails the cycle: persistence
// errors are logged and swallowed.
type Tracer struct {
	repo   store.TraceRepository
	logger *slog.Logger
	clock  func() time.Time
}

func NewTracer(repo store.TraceRepository, logger *slog.Logger) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{repo: repo, logger: logger.With("component", "tracer"), clock: time.Now}
}

// WithClock overrides the clock for tests.
func (t *Tracer) WithClock(clock func() time.Time) *Tracer {
	t.clock = clock
	return t
}

// NewTraceID derives a deterministic trace ID from the instance, the cycle
// timestamp and the context fingerprint, so a replayed cycle produces the
// same ID and the repository's conflict clause deduplicates it.
func NewTraceID(instanceID string, at time.Time, fingerprint string) string {
	seed := runtime.HashCanonical(map[string]any{
		"instance_id": instanceID,
		"at":          at.UnixNano(),
		"fingerprint": fingerprint,
	})
	return uuid.NewSHA1(traceNamespace, []byte(seed)).String()
}

// Record finalizes and stores the trace, filling ID and Timestamp if unset.
func (t *Tracer) Record(ctx context.Context, trace *contracts.DecisionTrace) {
	if trace.Timestamp.IsZero() {
		trace.Timestamp = t.clock()
	}
	if trace.ID == "" {
		trace.ID = NewTraceID(trace.InstanceID, trace.Timestamp, trace.Context.Fingerprint)
	}

	t.log(trace)

	if t.repo == nil {
		return
	}
	if err := t.repo.Append(ctx, trace); err != nil {
		t.logger.Error("trace persistence failed",
			"trace_id", trace.ID, "instance_id", trace.InstanceID, "error", err)
	}
}

func (t *Tracer) log(trace *contracts.DecisionTrace) {
	attrs := []any{
		"trace_id", trace.ID,
		"instance_id", trace.InstanceID,
		"type", trace.Type,
		"outcome", trace.Outcome,
	}
	if trace.NodeID != "" {
		attrs = append(attrs, "node_id", trace.NodeID)
	}
	if trace.OutcomeDetail != "" {
		attrs = append(attrs, "detail", trace.OutcomeDetail)
	}
	switch trace.Type {
	case contracts.TraceWait:
		t.logger.Debug("cycle traced", attrs...)
	case contracts.TraceBlocked:
		t.logger.Warn("cycle traced", attrs...)
	default:
		t.logger.Info("cycle traced", attrs...)
	}
}

// PruneLoop deletes traces older than the retention window on each tick
// until the context is cancelled. A non-positive retention falls back to
// DefaultRetention.
func (t *Tracer) PruneLoop(ctx context.Context, interval, retention time.Duration) {
	if t.repo == nil {
		return
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := t.clock().Add(-retention)
			removed, err := t.repo.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				t.logger.Error("trace pruning failed", "error", err)
				continue
			}
			if removed > 0 {
				t.logger.Info("traces pruned", "removed", removed, "cutoff", cutoff)
			}
		}
	}
}
