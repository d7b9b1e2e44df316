package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"concierge-go/internal/logger"
	"concierge-go/internal/storage/models"
)

// ErrTerminalStatus means a status write was refused because the job is
// already in a terminal status. Only the stuck-job releaser may move a
// job out of a non-terminal status into timeout_review; nothing moves a
// job out of a terminal one.
var ErrTerminalStatus = errors.New("job is in a terminal status")

// ErrJobNotFound means the referenced job does not exist.
var ErrJobNotFound = errors.New("job not found")

// JobRepository owns job reads and writes plus the status transition
// rules around them.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a repository over the given database.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job and its creation event.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		event := &models.JobEvent{
			JobID:     job.ID,
			EventType: "job_created",
			ToStatus:  job.Status,
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("insert job event: %w", err)
		}
		return nil
	})
}

// Get fetches one job by id.
func (r *JobRepository) Get(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return &job, nil
}

// RecordEvent appends an audit event without touching the job's status.
// Used for escalations where a human decides the next transition.
func (r *JobRepository) RecordEvent(ctx context.Context, jobID, eventType, detail, traceID string) error {
	event := &models.JobEvent{
		JobID:     jobID,
		TraceID:   traceID,
		EventType: eventType,
		Detail:    detail,
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// Transition moves a job to a new status and records the event, in one
// transaction. Terminal jobs refuse the write. The optional enqueue
// callback runs inside the same transaction so callers can write an
// outbox entry atomically with the status change.
func (r *JobRepository) Transition(ctx context.Context, jobID, toStatus, eventType, detail, traceID string, enqueue func(tx *gorm.DB) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", jobID).
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if err != nil {
			return fmt.Errorf("load job %s: %w", jobID, err)
		}

		if job.IsTerminal() {
			return fmt.Errorf("%w: job %s is %s", ErrTerminalStatus, jobID, job.Status)
		}

		updates := map[string]interface{}{
			"status":     toStatus,
			"updated_at": time.Now(),
		}
		if err := tx.Model(&models.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update job status: %w", err)
		}

		event := &models.JobEvent{
			JobID:      jobID,
			TraceID:    traceID,
			EventType:  eventType,
			FromStatus: job.Status,
			ToStatus:   toStatus,
			Detail:     detail,
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("insert job event: %w", err)
		}

		if enqueue != nil {
			if err := enqueue(tx); err != nil {
				return fmt.Errorf("enqueue outbox work: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("job_id", jobID).
		Str("to_status", toStatus).
		Str("event_type", eventType).
		Str("trace_id", traceID).
		Msg("job status transitioned")
	return nil
}
