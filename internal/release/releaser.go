// Package release holds the scheduled safety sweeps: the stuck-job
// releaser and the orphan cleanup.
package release

import (
	"context"
	"fmt"
	"time"

	"concierge-go/internal/constants"
	"concierge-go/internal/logger"
)

// JobStore is the document-store surface the releaser needs. The gorm
// implementation lives in store.go; tests use a fake.
type JobStore interface {
	// FindStuck returns up to limit jobs in status whose last update is
	// before cutoff.
	FindStuck(ctx context.Context, status string, cutoff time.Time, limit int) ([]StuckJob, error)

	// Release transitions one job to timeout_review, conditional on it
	// still being in fromStatus. Returns false when another writer won.
	Release(ctx context.Context, jobID, fromStatus, reason, traceID string, now time.Time) (bool, error)

	// GetJobStatus returns a job's status and last-update time.
	GetJobStatus(ctx context.Context, jobID string) (status string, updatedAt time.Time, err error)
}

// StuckJob is the minimal view of a release candidate.
type StuckJob struct {
	ID        string
	Status    string
	UpdatedAt time.Time
}

// Summary is the structured result of one sweep, suitable for alerting
// when JobsReleased > 0 or len(Errors) > 0.
type Summary struct {
	JobsChecked    int      `json:"jobs_checked"`
	JobsReleased   int      `json:"jobs_released"`
	ReleasedJobIDs []string `json:"released_job_ids"`
	Errors         []string `json:"errors"`
}

// Releaser force-transitions long-lived non-terminal jobs into the
// terminal timeout_review status so a human looks at every one of them.
// It never auto-completes or auto-cancels: timeout_review is its only
// allowed destination state.
type Releaser struct {
	store     JobStore
	threshold time.Duration
	batchSize int
	now       func() time.Time
}

// NewReleaser creates a releaser. Non-positive tunables fall back to the
// design defaults (1 hour threshold, 100 jobs per status per run).
func NewReleaser(store JobStore, threshold time.Duration, batchSize int) *Releaser {
	if threshold <= 0 {
		threshold = constants.DefaultStuckJobThreshold
	}
	if batchSize <= 0 {
		batchSize = constants.DefaultStuckJobBatchSize
	}
	return &Releaser{
		store:     store,
		threshold: threshold,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// ReleaseStuckJobs runs one sweep. Individual job failures are logged and
// counted without aborting the sweep; a job left un-released is retried on
// the next scheduled run.
func (r *Releaser) ReleaseStuckJobs(ctx context.Context, traceID string) Summary {
	now := r.now()
	cutoff := now.Add(-r.threshold)
	summary := Summary{}

	for _, status := range constants.NonTerminalJobStatuses {
		jobs, err := r.store.FindStuck(ctx, status, cutoff, r.batchSize)
		if err != nil {
			msg := fmt.Sprintf("query %s jobs: %v", status, err)
			summary.Errors = append(summary.Errors, msg)
			logger.Error().Err(err).Str("status", status).Str("trace_id", traceID).Msg("stuck-job query failed")
			continue
		}
		summary.JobsChecked += len(jobs)

		for _, job := range jobs {
			reason := fmt.Sprintf("no status change since %s while in %q (threshold %s)",
				job.UpdatedAt.Format(time.RFC3339), job.Status, r.threshold)

			released, err := r.store.Release(ctx, job.ID, job.Status, reason, traceID, now)
			if err != nil {
				msg := fmt.Sprintf("release job %s: %v", job.ID, err)
				summary.Errors = append(summary.Errors, msg)
				logger.Error().Err(err).Str("job_id", job.ID).Str("trace_id", traceID).Msg("stuck-job release failed")
				continue
			}
			if !released {
				// The job moved on between query and update; not stuck anymore.
				continue
			}

			summary.JobsReleased++
			summary.ReleasedJobIDs = append(summary.ReleasedJobIDs, job.ID)
			logger.Warn().
				Str("job_id", job.ID).
				Str("previous_status", job.Status).
				Str("trace_id", traceID).
				Time("stuck_since", job.UpdatedAt).
				Msg("stuck job released to timeout_review")
		}
	}

	event := logger.Info()
	if summary.JobsReleased > 0 || len(summary.Errors) > 0 {
		event = logger.Warn()
	}
	event.
		Int("jobs_checked", summary.JobsChecked).
		Int("jobs_released", summary.JobsReleased).
		Int("errors", len(summary.Errors)).
		Str("trace_id", traceID).
		Msg("stuck-job sweep finished")

	return summary
}

// IsJobStuck is the on-demand variant of the sweep's threshold check, for
// diagnostic tooling.
func (r *Releaser) IsJobStuck(ctx context.Context, jobID string) (bool, error) {
	status, updatedAt, err := r.store.GetJobStatus(ctx, jobID)
	if err != nil {
		return false, err
	}
	if constants.TerminalJobStatuses[status] {
		return false, nil
	}
	return updatedAt.Before(r.now().Add(-r.threshold)), nil
}
