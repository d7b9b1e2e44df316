package release

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge-go/internal/guard"
)

type fakeOrphanStore struct {
	parents  map[string]bool  // existing parent ids
	children map[string]int64 // parent id -> child count
	audits   int
}

func newFakeOrphanStore() *fakeOrphanStore {
	return &fakeOrphanStore{
		parents:  make(map[string]bool),
		children: make(map[string]int64),
	}
}

func (s *fakeOrphanStore) SampleParentIDs(_ context.Context, _ Relationship, _ int) ([]string, error) {
	var ids []string
	for id := range s.children {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeOrphanStore) ParentExists(_ context.Context, _ Relationship, parentID string) (bool, error) {
	return s.parents[parentID], nil
}

func (s *fakeOrphanStore) CountChildren(_ context.Context, _ Relationship, parentID string) (int64, error) {
	return s.children[parentID], nil
}

func (s *fakeOrphanStore) DeleteChildren(_ context.Context, _ Relationship, parentID string) (int64, error) {
	count := s.children[parentID]
	delete(s.children, parentID)
	return count, nil
}

func (s *fakeOrphanStore) AppendAuditLog(_ context.Context, _ Relationship, _ string, _ int64, _ bool, _ string) error {
	s.audits++
	return nil
}

func TestOrphanCleanupDryRunReportsWithoutDeleting(t *testing.T) {
	store := newFakeOrphanStore()
	store.parents["p-live"] = true
	store.children["p-live"] = 3
	store.children["p-gone"] = 7

	c := NewOrphanCleanup(store, guard.NewDeletionGuard(true))
	results := c.Run(context.Background(), OrphanCleanupOptions{DryRun: true, TraceID: "t-1", Caller: "cron@sweeps"})

	require.Len(t, results, 1)
	assert.Equal(t, int64(7), results[0].OrphanCount)
	assert.Zero(t, results[0].DeletedCount)
	assert.Equal(t, []string{"p-gone"}, results[0].OrphanParents)

	// Nothing was deleted and no audit was written.
	assert.Equal(t, int64(7), store.children["p-gone"])
	assert.Zero(t, store.audits)
}

func TestOrphanCleanupDeletesOrphansAndAudits(t *testing.T) {
	store := newFakeOrphanStore()
	store.parents["p-live"] = true
	store.children["p-live"] = 3
	store.children["p-gone"] = 7

	c := NewOrphanCleanup(store, guard.NewDeletionGuard(true))
	results := c.Run(context.Background(), OrphanCleanupOptions{TraceID: "t-2", Caller: "cron@sweeps"})

	require.Len(t, results, 1)
	assert.Equal(t, int64(7), results[0].DeletedCount)
	assert.Empty(t, results[0].Errors)
	assert.Equal(t, 1, store.audits)

	// Children of a live parent are untouched.
	assert.Equal(t, int64(3), store.children["p-live"])
	_, orphanRemains := store.children["p-gone"]
	assert.False(t, orphanRemains)
}

func TestOrphanCleanupFailsClosedWithoutDestructiveSwitch(t *testing.T) {
	store := newFakeOrphanStore()
	store.children["p-gone"] = 4

	c := NewOrphanCleanup(store, guard.NewDeletionGuard(false))
	results := c.Run(context.Background(), OrphanCleanupOptions{TraceID: "t-3", Caller: "cron@sweeps"})

	require.Len(t, results, 1)
	assert.Zero(t, results[0].DeletedCount)
	require.NotEmpty(t, results[0].Errors)
	assert.Contains(t, results[0].Errors[0], "not authorized")

	// The orphans are still there for a later authorized run.
	assert.Equal(t, int64(4), store.children["p-gone"])
}
