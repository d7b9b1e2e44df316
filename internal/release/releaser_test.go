package release

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge-go/internal/constants"
)

// fakeJobStore keeps jobs in memory and applies the same conditional
// transition semantics as the gorm store.
type fakeJobStore struct {
	jobs       map[string]*fakeJob
	releaseErr map[string]error
}

type fakeJob struct {
	id             string
	status         string
	previousStatus string
	updatedAt      time.Time
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:       make(map[string]*fakeJob),
		releaseErr: make(map[string]error),
	}
}

func (s *fakeJobStore) add(id, status string, updatedAt time.Time) {
	s.jobs[id] = &fakeJob{id: id, status: status, updatedAt: updatedAt}
}

func (s *fakeJobStore) FindStuck(_ context.Context, status string, cutoff time.Time, limit int) ([]StuckJob, error) {
	var found []StuckJob
	for _, j := range s.jobs {
		if j.status == status && j.updatedAt.Before(cutoff) && len(found) < limit {
			found = append(found, StuckJob{ID: j.id, Status: j.status, UpdatedAt: j.updatedAt})
		}
	}
	return found, nil
}

func (s *fakeJobStore) Release(_ context.Context, jobID, fromStatus, reason, _ string, now time.Time) (bool, error) {
	if err := s.releaseErr[jobID]; err != nil {
		return false, err
	}
	j, ok := s.jobs[jobID]
	if !ok || j.status != fromStatus {
		return false, nil
	}
	j.previousStatus = j.status
	j.status = constants.JobStatusTimeoutReview
	j.updatedAt = now
	return true, nil
}

func (s *fakeJobStore) GetJobStatus(_ context.Context, jobID string) (string, time.Time, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return "", time.Time{}, fmt.Errorf("job %s not found", jobID)
	}
	return j.status, j.updatedAt, nil
}

func TestReleaseStuckJobsTransitionsOldNonTerminalJobs(t *testing.T) {
	store := newFakeJobStore()
	now := time.Now()

	store.add("j-stuck", constants.JobStatusDispatching, now.Add(-61*time.Minute))
	store.add("j-fresh", constants.JobStatusDispatching, now.Add(-10*time.Minute))
	store.add("j-done", constants.JobStatusCompleted, now.Add(-3*time.Hour))

	r := NewReleaser(store, time.Hour, 100)
	r.now = func() time.Time { return now }

	summary := r.ReleaseStuckJobs(context.Background(), "trace-1")

	assert.Equal(t, 1, summary.JobsChecked)
	assert.Equal(t, 1, summary.JobsReleased)
	assert.Equal(t, []string{"j-stuck"}, summary.ReleasedJobIDs)
	assert.Empty(t, summary.Errors)

	released := store.jobs["j-stuck"]
	assert.Equal(t, constants.JobStatusTimeoutReview, released.status)
	assert.Equal(t, constants.JobStatusDispatching, released.previousStatus)

	// Fresh and terminal jobs are untouched.
	assert.Equal(t, constants.JobStatusDispatching, store.jobs["j-fresh"].status)
	assert.Equal(t, constants.JobStatusCompleted, store.jobs["j-done"].status)
}

func TestReleaseStuckJobsIsIdempotent(t *testing.T) {
	store := newFakeJobStore()
	now := time.Now()
	store.add("j-1", constants.JobStatusConfirming, now.Add(-2*time.Hour))

	r := NewReleaser(store, time.Hour, 100)
	r.now = func() time.Time { return now }

	first := r.ReleaseStuckJobs(context.Background(), "trace-1")
	require.Equal(t, 1, first.JobsReleased)

	// timeout_review is terminal, so the second sweep finds nothing.
	second := r.ReleaseStuckJobs(context.Background(), "trace-2")
	assert.Zero(t, second.JobsReleased)
	assert.Empty(t, second.ReleasedJobIDs)
}

func TestReleaseStuckJobsContinuesPastIndividualFailures(t *testing.T) {
	store := newFakeJobStore()
	now := time.Now()
	store.add("j-bad", constants.JobStatusPending, now.Add(-2*time.Hour))
	store.add("j-good", constants.JobStatusDispatching, now.Add(-2*time.Hour))
	store.releaseErr["j-bad"] = errors.New("write conflict")

	r := NewReleaser(store, time.Hour, 100)
	r.now = func() time.Time { return now }

	summary := r.ReleaseStuckJobs(context.Background(), "trace-1")

	assert.Equal(t, 1, summary.JobsReleased)
	assert.Equal(t, []string{"j-good"}, summary.ReleasedJobIDs)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "j-bad")
}

func TestIsJobStuck(t *testing.T) {
	store := newFakeJobStore()
	now := time.Now()
	store.add("j-stuck", constants.JobStatusInProgress, now.Add(-90*time.Minute))
	store.add("j-fresh", constants.JobStatusInProgress, now.Add(-5*time.Minute))
	store.add("j-done", constants.JobStatusCompleted, now.Add(-90*time.Minute))

	r := NewReleaser(store, time.Hour, 100)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	stuck, err := r.IsJobStuck(ctx, "j-stuck")
	require.NoError(t, err)
	assert.True(t, stuck)

	fresh, err := r.IsJobStuck(ctx, "j-fresh")
	require.NoError(t, err)
	assert.False(t, fresh)

	// Terminal jobs are never stuck regardless of age.
	done, err := r.IsJobStuck(ctx, "j-done")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = r.IsJobStuck(ctx, "j-missing")
	assert.Error(t, err)
}

func TestReleaseStuckJobsEndToEndTiming(t *testing.T) {
	// A job enters dispatching at T0; the sweep runs at T0+61min with a
	// 60-minute threshold.
	t0 := time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)
	store := newFakeJobStore()
	store.add("j-42", constants.JobStatusDispatching, t0)

	r := NewReleaser(store, 60*time.Minute, 100)
	r.now = func() time.Time { return t0.Add(61 * time.Minute) }

	summary := r.ReleaseStuckJobs(context.Background(), "trace-e2e")

	assert.Contains(t, summary.ReleasedJobIDs, "j-42")
	assert.Equal(t, constants.JobStatusTimeoutReview, store.jobs["j-42"].status)
	assert.Equal(t, constants.JobStatusDispatching, store.jobs["j-42"].previousStatus)
}
