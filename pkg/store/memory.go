package store

import (
	"context"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

// MemoryGraphRepository keeps graph definitions in a map keyed by id@version.
type MemoryGraphRepository struct {
	mu     sync.RWMutex
	graphs map[string]*contracts.GraphDef
}

func NewMemoryGraphRepository() *MemoryGraphRepository {
	return &MemoryGraphRepository{graphs: make(map[string]*contracts.GraphDef)}
}

func graphKey(graphID, version string) string { return graphID + "@" + version }

func (r *MemoryGraphRepository) Get(_ context.Context, graphID, version string) (*contracts.GraphDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.graphs[graphKey(graphID, version)]
	if !ok {
		return nil, ErrNotFound
	}
	return def, nil
}

func (r *MemoryGraphRepository) GetLatest(_ context.Context, graphID string) (*contracts.GraphDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *contracts.GraphDef
	var bestVer *semver.Version
	for _, def := range r.graphs {
		if def.ID != graphID || def.Status != contracts.GraphPublished {
			continue
		}
		ver, err := semver.NewVersion(def.Version)
		if err != nil {
			continue
		}
		if bestVer == nil || ver.GreaterThan(bestVer) {
			best, bestVer = def, ver
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (r *MemoryGraphRepository) List(_ context.Context) ([]*contracts.GraphDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*contracts.GraphDef, 0, len(r.graphs))
	for _, def := range r.graphs {
		out = append(out, def)
	}
	return out, nil
}

func (r *MemoryGraphRepository) Store(_ context.Context, def *contracts.GraphDef) error {
	if _, err := semver.NewVersion(def.Version); err != nil {
		return contracts.WrapError(contracts.KindInvalidGraph, "graph version is not semantic", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[graphKey(def.ID, def.Version)] = def
	return nil
}

// MemoryInstanceRepository stores deep-copied snapshots so callers cannot
// mutate persisted state through retained pointers.
type MemoryInstanceRepository struct {
	mu        sync.RWMutex
	instances map[string]*contracts.ProcessInstance
}

func NewMemoryInstanceRepository() *MemoryInstanceRepository {
	return &MemoryInstanceRepository{instances: make(map[string]*contracts.ProcessInstance)}
}

func (r *MemoryInstanceRepository) Get(_ context.Context, instanceID string) (*contracts.ProcessInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return nil, ErrNotFound
	}
	return inst.Snapshot(), nil
}

func (r *MemoryInstanceRepository) Save(_ context.Context, instance *contracts.ProcessInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[instance.ID] = instance.Snapshot()
	return nil
}

func (r *MemoryInstanceRepository) ListActive(_ context.Context) ([]*contracts.ProcessInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*contracts.ProcessInstance
	for _, inst := range r.instances {
		if !inst.IsTerminal() {
			out = append(out, inst.Snapshot())
		}
	}
	return out, nil
}

func (r *MemoryInstanceRepository) ListByGraph(_ context.Context, graphID string) ([]*contracts.ProcessInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*contracts.ProcessInstance
	for _, inst := range r.instances {
		if inst.GraphID == graphID {
			out = append(out, inst.Snapshot())
		}
	}
	return out, nil
}

// MemoryTraceRepository is an append-only in-memory trace log.
type MemoryTraceRepository struct {
	mu     sync.RWMutex
	traces []*contracts.DecisionTrace
	byID   map[string]*contracts.DecisionTrace
}

func NewMemoryTraceRepository() *MemoryTraceRepository {
	return &MemoryTraceRepository{byID: make(map[string]*contracts.DecisionTrace)}
}

func (r *MemoryTraceRepository) Append(_ context.Context, trace *contracts.DecisionTrace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, trace)
	r.byID[trace.ID] = trace
	return nil
}

func (r *MemoryTraceRepository) Get(_ context.Context, traceID string) (*contracts.DecisionTrace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	trace, ok := r.byID[traceID]
	if !ok {
		return nil, ErrNotFound
	}
	return trace, nil
}

func (r *MemoryTraceRepository) ListByInstance(_ context.Context, instanceID string, limit int) ([]*contracts.DecisionTrace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*contracts.DecisionTrace
	for i := len(r.traces) - 1; i >= 0; i-- {
		if r.traces[i].InstanceID != instanceID {
			continue
		}
		out = append(out, r.traces[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryTraceRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.traces[:0]
	var removed int64
	for _, t := range r.traces {
		if t.Timestamp.Before(cutoff) {
			delete(r.byID, t.ID)
			removed++
			continue
		}
		kept = append(kept, t)
	}
	r.traces = kept
	return removed, nil
}

// memoryIdemEntry pairs a record with its expiry; zero expiry means no TTL.
type memoryIdemEntry struct {
	record    *ExecutionRecord
	expiresAt time.Time
}

// MemoryIdempotencyStore is a map-backed idempotency store with lazy expiry.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryIdemEntry
	clock   func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryIdemEntry), clock: time.Now}
}

// WithClock overrides the expiry clock for tests.
func (s *MemoryIdempotencyStore) WithClock(clock func() time.Time) *MemoryIdempotencyStore {
	s.clock = clock
	return s
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && s.clock().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	return entry.record, nil
}

func (s *MemoryIdempotencyStore) PutIfAbsent(_ context.Context, record *ExecutionRecord, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if entry, ok := s.entries[record.Key]; ok {
		if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
			return false, nil
		}
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	s.entries[record.Key] = memoryIdemEntry{record: record, expiresAt: expiresAt}
	return true, nil
}
