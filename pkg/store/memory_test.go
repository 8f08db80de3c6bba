package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func publishedGraph(id, version string) *contracts.GraphDef {
	return &contracts.GraphDef{ID: id, Version: version, Status: contracts.GraphPublished}
}

func TestMemoryGraphRepository_GetLatest(t *testing.T) {
	repo := NewMemoryGraphRepository()
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, publishedGraph("flow", "1.2.0")))
	require.NoError(t, repo.Store(ctx, publishedGraph("flow", "1.10.0")))
	require.NoError(t, repo.Store(ctx, publishedGraph("flow", "0.9.0")))
	// Drafts never win GetLatest.
	draft := &contracts.GraphDef{ID: "flow", Version: "2.0.0", Status: contracts.GraphDraft}
	require.NoError(t, repo.Store(ctx, draft))

	def, err := repo.GetLatest(ctx, "flow")
	require.NoError(t, err)
	// Semantic ordering: 1.10.0 > 1.2.0.
	assert.Equal(t, "1.10.0", def.Version)

	_, err = repo.GetLatest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGraphRepository_RejectsNonSemverVersion(t *testing.T) {
	repo := NewMemoryGraphRepository()
	err := repo.Store(context.Background(), publishedGraph("flow", "latest"))
	require.Error(t, err)
	assert.True(t, contracts.IsKind(err, contracts.KindInvalidGraph))
}

func TestMemoryGraphRepository_GetAndList(t *testing.T) {
	repo := NewMemoryGraphRepository()
	ctx := context.Background()
	require.NoError(t, repo.Store(ctx, publishedGraph("a", "1.0.0")))
	require.NoError(t, repo.Store(ctx, publishedGraph("b", "1.0.0")))

	def, err := repo.Get(ctx, "a", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "a", def.ID)

	_, err = repo.Get(ctx, "a", "9.9.9")
	assert.ErrorIs(t, err, ErrNotFound)

	defs, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestMemoryInstanceRepository_SnapshotsIsolateCallers(t *testing.T) {
	repo := NewMemoryInstanceRepository()
	ctx := context.Background()

	inst := &contracts.ProcessInstance{
		ID:      "inst-1",
		GraphID: "flow",
		Status:  contracts.InstanceRunning,
		Context: contracts.NewExecutionContext(),
	}
	inst.Context.Domain["amount"] = 100
	require.NoError(t, repo.Save(ctx, inst))

	// Mutating the saved pointer must not leak into the store.
	inst.Context.Domain["amount"] = 999

	got, err := repo.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 100, got.Context.Domain["amount"])

	// Nor must mutating a retrieved copy.
	got.Status = contracts.InstanceFailed
	again, err := repo.Get(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.InstanceRunning, again.Status)
}

func TestMemoryInstanceRepository_ListActive(t *testing.T) {
	repo := NewMemoryInstanceRepository()
	ctx := context.Background()

	running := &contracts.ProcessInstance{ID: "r", GraphID: "flow", Status: contracts.InstanceRunning}
	suspended := &contracts.ProcessInstance{ID: "s", GraphID: "flow", Status: contracts.InstanceSuspended}
	done := &contracts.ProcessInstance{ID: "d", GraphID: "flow", Status: contracts.InstanceCompleted}
	for _, inst := range []*contracts.ProcessInstance{running, suspended, done} {
		require.NoError(t, repo.Save(ctx, inst))
	}

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, inst := range active {
		ids = append(ids, inst.ID)
	}
	assert.ElementsMatch(t, []string{"r", "s"}, ids)

	byGraph, err := repo.ListByGraph(ctx, "flow")
	require.NoError(t, err)
	assert.Len(t, byGraph, 3)
}

func TestMemoryTraceRepository_ListNewestFirst(t *testing.T) {
	repo := NewMemoryTraceRepository()
	ctx := context.Background()

	for i, id := range []string{"t1", "t2", "t3"} {
		trace := &contracts.DecisionTrace{
			ID:         id,
			InstanceID: "inst-1",
			Timestamp:  fixedNow.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Append(ctx, trace))
	}
	require.NoError(t, repo.Append(ctx, &contracts.DecisionTrace{ID: "other", InstanceID: "inst-2"}))

	traces, err := repo.ListByInstance(ctx, "inst-1", 2)
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "t3", traces[0].ID)
	assert.Equal(t, "t2", traces[1].ID)

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTraceRepository_DeleteOlderThan(t *testing.T) {
	repo := NewMemoryTraceRepository()
	ctx := context.Background()
	require.NoError(t, repo.Append(ctx, &contracts.DecisionTrace{ID: "old", InstanceID: "i", Timestamp: fixedNow.Add(-time.Hour)}))
	require.NoError(t, repo.Append(ctx, &contracts.DecisionTrace{ID: "new", InstanceID: "i", Timestamp: fixedNow}))

	removed, err := repo.DeleteOlderThan(ctx, fixedNow.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryIdempotencyStore_ClaimOnce(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	ctx := context.Background()
	record := &ExecutionRecord{Key: "k1", InstanceID: "inst-1", NodeID: "n1", Status: "SUCCESS", RecordedAt: fixedNow}

	claimed, err := s.PutIfAbsent(ctx, record, 0)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.PutIfAbsent(ctx, record, 0)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, record, got)

	_, err = s.Get(ctx, "k2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryIdempotencyStore_TTLExpiry(t *testing.T) {
	now := fixedNow
	s := NewMemoryIdempotencyStore().WithClock(func() time.Time { return now })
	ctx := context.Background()
	record := &ExecutionRecord{Key: "k1", InstanceID: "inst-1", NodeID: "n1", RecordedAt: now}

	claimed, err := s.PutIfAbsent(ctx, record, time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	now = now.Add(30 * time.Minute)
	_, err = s.Get(ctx, "k1")
	assert.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	// An expired key can be reclaimed.
	claimed, err = s.PutIfAbsent(ctx, record, time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}
