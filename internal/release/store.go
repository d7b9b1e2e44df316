package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"concierge-go/internal/constants"
	"concierge-go/internal/storage/models"
)

// GormStore implements JobStore and OrphanStore over the document store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var (
	_ JobStore    = (*GormStore)(nil)
	_ OrphanStore = (*GormStore)(nil)
)

// FindStuck implements JobStore.
func (s *GormStore) FindStuck(ctx context.Context, status string, cutoff time.Time, limit int) ([]StuckJob, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Select("id", "status", "updated_at").
		Where("status = ? AND updated_at < ?", status, cutoff).
		Order("updated_at asc").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}

	stuck := make([]StuckJob, 0, len(jobs))
	for _, j := range jobs {
		stuck = append(stuck, StuckJob{ID: j.ID, Status: j.Status, UpdatedAt: j.UpdatedAt})
	}
	return stuck, nil
}

// Release implements JobStore. The status condition makes the transition
// a compare-and-swap: under concurrent sweeps or a racing domain write, at
// most one writer wins.
func (s *GormStore) Release(ctx context.Context, jobID, fromStatus, reason, traceID string, now time.Time) (bool, error) {
	var released bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", jobID, fromStatus).
			Updates(map[string]interface{}{
				"status":          constants.JobStatusTimeoutReview,
				"previous_status": fromStatus,
				"timeout_reason":  reason,
				"timed_out_at":    now,
				"updated_at":      now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		released = true

		event := &models.JobEvent{
			JobID:      jobID,
			TraceID:    traceID,
			EventType:  "stuck_job_released",
			FromStatus: fromStatus,
			ToStatus:   constants.JobStatusTimeoutReview,
			Detail:     reason,
		}
		return tx.Create(event).Error
	})
	return released, err
}

// GetJobStatus implements JobStore.
func (s *GormStore) GetJobStatus(ctx context.Context, jobID string) (string, time.Time, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Select("id", "status", "updated_at").
		First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", time.Time{}, fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return job.Status, job.UpdatedAt, nil
}

// SampleParentIDs implements OrphanStore with a collection-group-style
// scan: a bounded sample of child rows across all parents.
func (s *GormStore) SampleParentIDs(ctx context.Context, rel Relationship, sampleLimit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Table(rel.Child).
		Distinct(rel.ChildKey).
		Limit(sampleLimit).
		Pluck(rel.ChildKey, &ids).Error
	return ids, err
}

// ParentExists implements OrphanStore.
func (s *GormStore) ParentExists(ctx context.Context, rel Relationship, parentID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table(rel.Parent).
		Where("id = ?", parentID).
		Count(&count).Error
	return count > 0, err
}

// CountChildren implements OrphanStore.
func (s *GormStore) CountChildren(ctx context.Context, rel Relationship, parentID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Table(rel.Child).
		Where(rel.ChildKey+" = ?", parentID).
		Count(&count).Error
	return count, err
}

// DeleteChildren implements OrphanStore.
func (s *GormStore) DeleteChildren(ctx context.Context, rel Relationship, parentID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", rel.Child, rel.ChildKey), parentID)
	return result.RowsAffected, result.Error
}

// AppendAuditLog implements OrphanStore.
func (s *GormStore) AppendAuditLog(ctx context.Context, rel Relationship, parentID string, deletedCount int64, dryRun bool, traceID string) error {
	log := &models.OrphanCleanupLog{
		TraceID:          traceID,
		ParentCollection: rel.Parent,
		ChildCollection:  rel.Child,
		ParentID:         parentID,
		DeletedCount:     deletedCount,
		DryRun:           dryRun,
	}
	return s.db.WithContext(ctx).Create(log).Error
}
