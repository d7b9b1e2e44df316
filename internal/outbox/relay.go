package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"concierge-go/internal/constants"
	"concierge-go/internal/logger"
	"concierge-go/internal/storage/models"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
)

// Relay polls pending outbox entries and drives their external calls
// through the dispatcher. Multiple relay instances may run concurrently:
// the claim transaction guarantees at-most-one active attempt per entry.
type Relay struct {
	db              *gorm.DB
	service         *Service
	dispatcher      Dispatcher
	pollingInterval time.Duration
	batchSize       int
	done            chan struct{}
	tracer          trace.Tracer
}

// NewRelay creates a relay over the outbox service.
func NewRelay(db *gorm.DB, service *Service, dispatcher Dispatcher) *Relay {
	return &Relay{
		db:              db,
		service:         service,
		dispatcher:      dispatcher,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		done:            make(chan struct{}),
		tracer:          otel.Tracer("concierge-go/outbox/relay"),
	}
}

// WithPolling overrides the poll interval and batch size.
func (r *Relay) WithPolling(interval time.Duration, batchSize int) *Relay {
	if interval > 0 {
		r.pollingInterval = interval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	return r
}

// Start begins the polling loop in a background goroutine.
func (r *Relay) Start() {
	logger.Info().Dur("interval", r.pollingInterval).Msg("outbox relay starting")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		for {
			select {
			case <-r.done:
				ticker.Stop()
				logger.Info().Msg("outbox relay stopped")
				return
			case <-ticker.C:
				if err := r.processPendingEntries(context.Background()); err != nil {
					logger.Error().Err(err).Msg("outbox relay sweep failed")
				}
			}
		}
	}()
}

// Stop signals the polling loop to exit.
func (r *Relay) Stop() {
	close(r.done)
}

// processPendingEntries fetches one batch of pending entries and works
// each through claim, external call and complete/fail. The batch query is
// deliberately outside any tracing span so empty polls produce none.
func (r *Relay) processPendingEntries(ctx context.Context) error {
	var entries []models.OutboxEntry

	// A plain read is enough here: ownership is decided by the claim
	// transaction, so two relay instances reading the same batch is safe.
	err := r.db.WithContext(ctx).
		Where("status = ?", constants.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&entries).Error
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(
			attribute.Int("messaging.batch.entry_count", len(entries)),
		),
	)
	defer span.End()

	for _, entry := range entries {
		r.processEntry(ctx, entry)
	}
	return nil
}

// processEntry runs one claim/dispatch/record cycle. Errors are recorded
// on the entry, never propagated: an entry left un-completed is retried on
// a later sweep until its budget is spent.
func (r *Relay) processEntry(ctx context.Context, entry models.OutboxEntry) {
	attemptID := uuid.NewString()

	claimed, err := r.service.Claim(ctx, entry.ID, attemptID, entry.TraceID)
	if err != nil {
		logger.Error().Err(err).Str("outbox_id", entry.ID).Msg("outbox claim failed")
		return
	}
	if claimed == nil {
		// Someone else owns it, or it just went terminal.
		return
	}

	evidence, callErr := r.dispatcher.Dispatch(ctx, claimed.WorkType, claimed.Payload)
	if callErr != nil {
		if err := r.service.Fail(ctx, claimed.ID, callErr, claimed.TraceID); err != nil {
			logger.Error().Err(err).Str("outbox_id", claimed.ID).Msg("outbox fail-record failed")
		}
		return
	}

	if err := r.service.Complete(ctx, claimed.ID, evidence, claimed.TraceID); err != nil {
		logger.Error().Err(err).Str("outbox_id", claimed.ID).Msg("outbox complete-record failed")
	}
}
