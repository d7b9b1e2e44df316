package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"concierge-go/internal/outbox"
	"concierge-go/internal/release"
)

// AdminHandler exposes on-demand sweeps and outbox inspection. Every
// route here sits behind the key-auth middleware.
type AdminHandler struct {
	releaser *release.Releaser
	orphans  *release.OrphanCleanup
	outbox   *outbox.Service
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(releaser *release.Releaser, orphans *release.OrphanCleanup, outboxSvc *outbox.Service) *AdminHandler {
	return &AdminHandler{
		releaser: releaser,
		orphans:  orphans,
		outbox:   outboxSvc,
	}
}

// HandleReleaseStuckJobs runs the stuck-job sweep now instead of waiting
// for the schedule.
// POST /admin/sweeps/stuck-jobs
func (h *AdminHandler) HandleReleaseStuckJobs(ctx context.Context, c *app.RequestContext) {
	traceID := string(c.GetHeader("X-Trace-ID"))
	if traceID == "" {
		traceID = uuid.NewString()
	}

	summary := h.releaser.ReleaseStuckJobs(ctx, traceID)
	c.JSON(consts.StatusOK, summary)
}

// HandleOrphanCleanup runs the orphan sweep. Defaults to dry run; a real
// delete needs ?dry_run=false and passes the deletion guard internally.
// POST /admin/sweeps/orphans
func (h *AdminHandler) HandleOrphanCleanup(ctx context.Context, c *app.RequestContext) {
	traceID := string(c.GetHeader("X-Trace-ID"))
	if traceID == "" {
		traceID = uuid.NewString()
	}

	opts := release.OrphanCleanupOptions{
		DryRun:  c.Query("dry_run") != "false",
		TraceID: traceID,
		Caller:  "admin_api",
	}

	results := h.orphans.Run(ctx, opts)
	c.JSON(consts.StatusOK, utils.H{
		"dry_run":  opts.DryRun,
		"trace_id": traceID,
		"results":  results,
	})
}

// HandleIsJobStuck is the on-demand diagnostic check.
// GET /admin/jobs/:job_id/stuck
func (h *AdminHandler) HandleIsJobStuck(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "job_id is required"})
		return
	}

	stuck, err := h.releaser.IsJobStuck(ctx, jobID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"job_id": jobID, "stuck": stuck})
}

// HandleGetOutboxEntry inspects one outbox entry, evidence included.
// GET /admin/outbox/:outbox_id
func (h *AdminHandler) HandleGetOutboxEntry(ctx context.Context, c *app.RequestContext) {
	outboxID := c.Param("outbox_id")
	if outboxID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "outbox_id is required"})
		return
	}

	entry, err := h.outbox.Get(ctx, outboxID)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "outbox lookup failed"})
		return
	}
	if entry == nil {
		c.JSON(consts.StatusNotFound, utils.H{"error": "outbox entry not found"})
		return
	}
	c.JSON(consts.StatusOK, entry)
}
