// Package outbox isolates slow, fallible external calls from fast
// transactional state writes. Handlers enqueue a durable work intent in
// the same transaction as their own write; a relay later claims the
// entry, performs the external call outside any transaction, and records
// the outcome. An external effect is retried until it succeeds or the
// attempt budget is exhausted, never silently dropped and never duplicated
// within one attempt.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"concierge-go/internal/constants"
	"concierge-go/internal/logger"
	"concierge-go/internal/storage"
	"concierge-go/internal/storage/models"
)

// claimAction is the outcome of the claim state machine for one attempt.
type claimAction int

const (
	// claimDeny: no work handed out; the caller treats this as "someone
	// else is handling it", not as a failure.
	claimDeny claimAction = iota
	// claimExhaust: the attempt budget is spent; the entry fails terminally.
	claimExhaust
	// claimGrant: the attempt owns the entry and may perform the call.
	claimGrant
)

// claimDecision applies the claim rules to a locked entry. Kept pure so
// the state machine is testable without a database.
func claimDecision(entry *models.OutboxEntry, attemptID string) (claimAction, string) {
	if entry.IsTerminal() {
		return claimDeny, "entry already terminal"
	}
	if entry.LastAttemptID != "" && entry.LastAttemptID == attemptID {
		// Idempotent duplicate: this attempt already owns the entry.
		return claimDeny, "duplicate attempt"
	}
	if entry.Status == constants.OutboxStatusProcessing {
		// Another attempt holds the active claim. The entry returns to
		// pending via Fail, or goes terminal via Complete; until then no
		// new attempt may own it.
		return claimDeny, "claim already active"
	}
	if entry.Attempts >= entry.MaxAttempts {
		return claimExhaust, "max attempts exceeded"
	}
	return claimGrant, ""
}

// Service exposes the outbox operations over the document store.
type Service struct {
	db               *gorm.DB
	archive          storage.EvidenceArchive // optional
	maxAttempts      int
	inlineLimitBytes int
}

// NewService creates the outbox service. archive may be nil, in which case
// evidence is always stored inline.
func NewService(db *gorm.DB, archive storage.EvidenceArchive, maxAttempts, inlineLimitBytes int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultOutboxMaxAttempts
	}
	if inlineLimitBytes <= 0 {
		inlineLimitBytes = 32 << 10
	}
	return &Service{
		db:               db,
		archive:          archive,
		maxAttempts:      maxAttempts,
		inlineLimitBytes: inlineLimitBytes,
	}
}

// Enqueue persists a new pending entry and returns its id. When tx is
// non-nil the insert joins the caller's transaction, so the state write
// and the queued intent land atomically (write-ahead-log pattern).
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, jobID, traceID, workType string, payload []byte) (string, error) {
	db := tx
	if db == nil {
		db = s.db.WithContext(ctx)
	}

	entry := &models.OutboxEntry{
		ID:          uuid.NewString(),
		JobID:       jobID,
		TraceID:     traceID,
		WorkType:    workType,
		Status:      constants.OutboxStatusPending,
		Payload:     datatypes.JSON(payload),
		MaxAttempts: s.maxAttempts,
	}

	if err := db.Create(entry).Error; err != nil {
		return "", fmt.Errorf("enqueue outbox entry for job %s: %w", jobID, err)
	}

	logger.Debug().
		Str("outbox_id", entry.ID).
		Str("job_id", jobID).
		Str("work_type", workType).
		Str("trace_id", traceID).
		Msg("outbox entry enqueued")
	return entry.ID, nil
}

// Claim atomically marks the entry as being worked on by attemptID and
// returns it for the caller to perform the external call outside the
// transaction. A nil entry with a nil error means there is nothing for
// this attempt to do: missing entry, terminal entry, duplicate attempt, or
// an entry that just exhausted its budget.
func (s *Service) Claim(ctx context.Context, outboxID, attemptID, traceID string) (*models.OutboxEntry, error) {
	var claimed *models.OutboxEntry

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.OutboxEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&entry, "id = ?", outboxID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn().
				Str("outbox_id", outboxID).
				Str("trace_id", traceID).
				Msg("claim on missing outbox entry")
			return nil
		}
		if err != nil {
			return fmt.Errorf("load outbox entry %s: %w", outboxID, err)
		}

		action, reason := claimDecision(&entry, attemptID)
		switch action {
		case claimDeny:
			logger.Debug().
				Str("outbox_id", outboxID).
				Str("attempt_id", attemptID).
				Str("reason", reason).
				Msg("outbox claim denied")
			return nil

		case claimExhaust:
			now := time.Now()
			entry.Status = constants.OutboxStatusFailed
			entry.LastError = "max attempts exceeded"
			entry.ProcessedAt = &now
			if err := tx.Save(&entry).Error; err != nil {
				return fmt.Errorf("mark outbox entry %s exhausted: %w", outboxID, err)
			}
			logger.Warn().
				Str("outbox_id", outboxID).
				Str("job_id", entry.JobID).
				Int("attempts", entry.Attempts).
				Msg("outbox entry failed terminally, manual intervention required")
			return nil

		case claimGrant:
			entry.Status = constants.OutboxStatusProcessing
			entry.Attempts++
			entry.LastAttemptID = attemptID
			if err := tx.Save(&entry).Error; err != nil {
				return fmt.Errorf("claim outbox entry %s: %w", outboxID, err)
			}
			claimed = &entry
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete records the external call's evidence and marks the entry
// completed. Evidence larger than the inline limit is offloaded to the
// archive with the object key kept on the entry.
func (s *Service) Complete(ctx context.Context, outboxID string, evidence []byte, traceID string) error {
	objectKey := ""
	inline := evidence
	if s.archive != nil && len(evidence) > s.inlineLimitBytes {
		key, err := s.archive.PutEvidence(ctx, outboxID, evidence)
		if err != nil {
			// The call already succeeded; losing its evidence to an archive
			// outage must not fail the completion. Keep it inline instead.
			logger.Error().Err(err).Str("outbox_id", outboxID).Msg("evidence archive write failed, keeping inline")
		} else {
			objectKey = key
			inline = []byte(fmt.Sprintf(`{"archived":true,"object_key":%q}`, key))
		}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":       constants.OutboxStatusCompleted,
		"evidence":     datatypes.JSON(inline),
		"last_error":   "",
		"processed_at": &now,
	}
	if objectKey != "" {
		updates["evidence_object_key"] = objectKey
	}

	result := s.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ?", outboxID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("complete outbox entry %s: %w", outboxID, result.Error)
	}

	logger.Info().
		Str("outbox_id", outboxID).
		Str("trace_id", traceID).
		Msg("outbox entry completed")
	return nil
}

// Fail records the attempt's error. When the budget is spent the entry
// fails terminally; otherwise it returns to pending for a later retry
// sweep.
func (s *Service) Fail(ctx context.Context, outboxID string, callErr error, traceID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.OutboxEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&entry, "id = ?", outboxID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn().Str("outbox_id", outboxID).Msg("fail on missing outbox entry")
			return nil
		}
		if err != nil {
			return fmt.Errorf("load outbox entry %s: %w", outboxID, err)
		}

		entry.LastError = callErr.Error()
		if entry.Attempts >= entry.MaxAttempts {
			now := time.Now()
			entry.Status = constants.OutboxStatusFailed
			entry.ProcessedAt = &now
			logger.Warn().
				Str("outbox_id", outboxID).
				Str("job_id", entry.JobID).
				Str("trace_id", traceID).
				Int("attempts", entry.Attempts).
				Str("error", callErr.Error()).
				Msg("outbox entry failed terminally, manual intervention required")
		} else {
			entry.Status = constants.OutboxStatusPending
			logger.Info().
				Str("outbox_id", outboxID).
				Str("trace_id", traceID).
				Int("attempts", entry.Attempts).
				Int("max_attempts", entry.MaxAttempts).
				Str("error", callErr.Error()).
				Msg("outbox entry attempt failed, will retry")
		}

		if err := tx.Save(&entry).Error; err != nil {
			return fmt.Errorf("record failure on outbox entry %s: %w", outboxID, err)
		}
		return nil
	})
}

// Get returns one entry, for admin inspection.
func (s *Service) Get(ctx context.Context, outboxID string) (*models.OutboxEntry, error) {
	var entry models.OutboxEntry
	err := s.db.WithContext(ctx).First(&entry, "id = ?", outboxID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load outbox entry %s: %w", outboxID, err)
	}
	return &entry, nil
}
