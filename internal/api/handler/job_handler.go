package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"concierge-go/internal/constants"
	"concierge-go/internal/gateway"
	"concierge-go/internal/outbox"
	"concierge-go/internal/storage"
	"concierge-go/internal/storage/models"
)

type createJobRequest struct {
	Type        string          `json:"type"`
	UserID      string          `json:"user_id"`
	VendorPhone string          `json:"vendor_phone"`
	Payload     json.RawMessage `json:"payload"`
	// Message is the initial outreach sent to the vendor.
	Message string `json:"message"`
}

// JobHandler owns the job CRUD surface.
type JobHandler struct {
	jobs          *storage.JobRepository
	outbox        *outbox.Service
	defaultRegion string
}

// NewJobHandler creates the job handler.
func NewJobHandler(jobs *storage.JobRepository, outboxSvc *outbox.Service, defaultRegion string) *JobHandler {
	return &JobHandler{
		jobs:          jobs,
		outbox:        outboxSvc,
		defaultRegion: defaultRegion,
	}
}

// HandleCreateJob creates a job and queues the initial vendor outreach.
// The status transition and the outbox entry land in one transaction so
// the outreach can never be lost or sent without the job existing.
// POST /api/v1/jobs
func (h *JobHandler) HandleCreateJob(ctx context.Context, c *app.RequestContext) {
	var req createJobRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body"})
		return
	}
	if req.Type == "" || req.UserID == "" || req.VendorPhone == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "type, user_id and vendor_phone are required"})
		return
	}

	// An unparseable vendor number fails the request now, not at
	// dispatch time when nobody is looking.
	normalizedPhone, err := gateway.NormalizePhone(req.VendorPhone, h.defaultRegion)
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}

	traceID := string(c.GetHeader("X-Trace-ID"))
	if traceID == "" {
		traceID = uuid.NewString()
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Status:      constants.JobStatusPending,
		UserID:      req.UserID,
		VendorPhone: normalizedPhone,
		Payload:     []byte(req.Payload),
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "job creation failed"})
		return
	}

	if req.Message != "" {
		payload, _ := json.Marshal(outbox.VendorMessagePayload{
			VendorPhone: normalizedPhone,
			Body:        req.Message,
		})
		err = h.jobs.Transition(ctx, job.ID, constants.JobStatusConfirming,
			"vendor_outreach_queued", "initial vendor message enqueued", traceID,
			func(tx *gorm.DB) error {
				_, enqueueErr := h.outbox.Enqueue(ctx, tx, job.ID, traceID, constants.WorkTypeVendorMessage, payload)
				return enqueueErr
			})
		if err != nil {
			c.JSON(consts.StatusInternalServerError, utils.H{"error": "vendor outreach enqueue failed"})
			return
		}
		job.Status = constants.JobStatusConfirming
	}

	c.JSON(consts.StatusCreated, utils.H{
		"job_id":   job.ID,
		"status":   job.Status,
		"trace_id": traceID,
	})
}

// HandleGetJob returns one job.
// GET /api/v1/jobs/:job_id
func (h *JobHandler) HandleGetJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "job_id is required"})
		return
	}

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "job lookup failed"})
		return
	}
	c.JSON(consts.StatusOK, job)
}
