// Package handler holds the HTTP request handlers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"concierge-go/internal/constants"
	"concierge-go/internal/guard"
	"concierge-go/internal/logger"
	"concierge-go/internal/reply"
	"concierge-go/internal/storage"
)

// vendorReplyRequest is the inbound webhook body from the messaging
// gateway.
type vendorReplyRequest struct {
	MessageSID  string `json:"message_sid"`
	JobID       string `json:"job_id"`
	VendorPhone string `json:"vendor_phone"`
	Body        string `json:"body"`
}

// ReplyAction is what the state machine did with a classified reply.
type ReplyAction string

const (
	ActionConfirmed ReplyAction = "confirmed"
	ActionRejected  ReplyAction = "rejected"
	ActionEscalated ReplyAction = "escalated"
	ActionIgnored   ReplyAction = "ignored"
)

// JobStateMachine is the slice of the job repository the reply pipeline
// drives.
type JobStateMachine interface {
	Transition(ctx context.Context, jobID, toStatus, eventType, detail, traceID string, enqueue func(tx *gorm.DB) error) error
	RecordEvent(ctx context.Context, jobID, eventType, detail, traceID string) error
}

// VendorReplyHandler consumes vendor replies from the messaging webhook
// and the broker queue, classifies them and drives the job state
// machine.
type VendorReplyHandler struct {
	recursionGuard *guard.RecursionGuard
	parser         *reply.Parser
	jobs           JobStateMachine
}

// NewVendorReplyHandler wires the reply pipeline.
func NewVendorReplyHandler(recursionGuard *guard.RecursionGuard, parser *reply.Parser, jobs JobStateMachine) *VendorReplyHandler {
	return &VendorReplyHandler{
		recursionGuard: recursionGuard,
		parser:         parser,
		jobs:           jobs,
	}
}

// replyConsumer is the slice of the broker client the consumer needs.
type replyConsumer interface {
	StartConsumer(queueName string, prefetchCount int, handler func([]byte) bool) (chan struct{}, error)
}

// StartReplyConsumer consumes vendor replies from the broker queue and
// runs them through the same pipeline as the webhook. Returns the stop
// channel; close it to stop consuming.
func (h *VendorReplyHandler) StartReplyConsumer(consumer replyConsumer, queueName string, prefetch int) (chan struct{}, error) {
	return consumer.StartConsumer(queueName, prefetch, func(body []byte) bool {
		var req vendorReplyRequest
		if err := json.Unmarshal(body, &req); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed vendor reply message")
			return true // unparseable, requeueing will not help
		}
		if req.MessageSID == "" || req.JobID == "" {
			logger.Warn().Msg("dropping vendor reply message without message_sid or job_id")
			return true
		}

		_, _, err := h.ProcessReply(context.Background(), req.MessageSID, req.JobID, req.Body, uuid.NewString())
		if err != nil {
			logger.Error().Err(err).Str("job_id", req.JobID).Msg("vendor reply processing failed, nacking for retry")
			return false
		}
		return true
	})
}

// HandleVendorReply is the webhook endpoint.
// POST /webhook/vendor-reply
func (h *VendorReplyHandler) HandleVendorReply(ctx context.Context, c *app.RequestContext) {
	var req vendorReplyRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body"})
		return
	}
	if req.MessageSID == "" || req.JobID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "message_sid and job_id are required"})
		return
	}

	traceID := string(c.GetHeader("X-Trace-ID"))
	if traceID == "" {
		traceID = uuid.NewString()
	}

	action, result, err := h.ProcessReply(ctx, req.MessageSID, req.JobID, req.Body, traceID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		if errors.Is(err, storage.ErrTerminalStatus) {
			c.JSON(consts.StatusConflict, utils.H{"error": err.Error()})
			return
		}
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "reply processing failed"})
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"action":     action,
		"intent":     result.Intent,
		"confidence": result.Confidence,
		"trace_id":   traceID,
	})
}

// ProcessReply runs one reply through the guard, the parser and the job
// state machine. It is shared by the webhook and the queue consumer.
//
// A recursion halt is not an error; the reply is simply dropped so the
// cascade dies here.
func (h *VendorReplyHandler) ProcessReply(ctx context.Context, messageSID, jobID, body, traceID string) (ReplyAction, reply.ParseResult, error) {
	check := h.recursionGuard.Check(ctx, messageSID, "vendor_reply", "jobs/"+jobID)
	if check.Halt {
		return ActionIgnored, reply.ParseResult{}, nil
	}

	result := h.parser.Parse(body, traceID)

	switch result.Intent {
	case reply.IntentConfirm:
		err := h.jobs.Transition(ctx, jobID, constants.JobStatusInProgress,
			"vendor_confirmed", fmt.Sprintf("reply %q matched %s", result.NormalizedInput, result.MatchedPattern), traceID, nil)
		if err != nil {
			return "", result, err
		}
		return ActionConfirmed, result, nil

	case reply.IntentReject:
		err := h.jobs.Transition(ctx, jobID, constants.JobStatusCancelled,
			"vendor_rejected", fmt.Sprintf("reply %q matched %s", result.NormalizedInput, result.MatchedPattern), traceID, nil)
		if err != nil {
			return "", result, err
		}
		return ActionRejected, result, nil

	default:
		// need_more_info and requires_human both go to a human; the job
		// keeps its status and the escalation is recorded for the
		// operator queue.
		err := h.jobs.RecordEvent(ctx, jobID, "reply_escalated",
			fmt.Sprintf("intent=%s confidence=%s reply=%q", result.Intent, result.Confidence, result.NormalizedInput), traceID)
		if err != nil {
			return "", result, err
		}
		logger.Info().
			Str("job_id", jobID).
			Str("trace_id", traceID).
			Str("intent", string(result.Intent)).
			Msg("vendor reply escalated to human review")
		return ActionEscalated, result, nil
	}
}
