package constants

import "time"

// Job statuses. Non-terminal statuses are eligible for the stuck-job sweep;
// terminal statuses accept no further status-changing write.
const (
	JobStatusPending        = "pending"
	JobStatusConfirming     = "confirming"
	JobStatusDispatching    = "dispatching"
	JobStatusInProgress     = "in_progress"
	JobStatusAwaitingVendor = "awaiting_vendor"

	JobStatusCompleted     = "completed"
	JobStatusCancelled     = "cancelled"
	JobStatusFailed        = "failed"
	JobStatusTimeoutReview = "timeout_review"
)

// NonTerminalJobStatuses is the scan set for the stuck-job sweep.
var NonTerminalJobStatuses = []string{
	JobStatusPending,
	JobStatusConfirming,
	JobStatusDispatching,
	JobStatusInProgress,
	JobStatusAwaitingVendor,
}

// TerminalJobStatuses gates further status writes on the job state machine.
var TerminalJobStatuses = map[string]bool{
	JobStatusCompleted:     true,
	JobStatusCancelled:     true,
	JobStatusFailed:        true,
	JobStatusTimeoutReview: true,
}

// Outbox entry statuses.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusCompleted  = "completed"
	OutboxStatusFailed     = "failed"
)

// Outbox work types routed by the relay dispatcher.
const (
	WorkTypeCompletionRequest = "completion_request"
	WorkTypeVendorMessage     = "vendor_message"
)

const (
	// DefaultOutboxMaxAttempts is the per-entry retry budget before an entry
	// fails terminally and requires manual intervention.
	DefaultOutboxMaxAttempts = 5

	// DefaultStuckJobThreshold marks a non-terminal job as stuck once its
	// last update is older than this.
	DefaultStuckJobThreshold = 1 * time.Hour

	// DefaultStuckJobBatchSize bounds released jobs per status per sweep run.
	DefaultStuckJobBatchSize = 100

	// DefaultMaxRecursionDepth allows the original invocation plus one
	// legitimate cascade; anything deeper is treated as a loop.
	DefaultMaxRecursionDepth = 2

	// DefaultRecursionCacheTTL bounds how long an event id is remembered.
	DefaultRecursionCacheTTL = 10 * time.Minute
)

// Search Broker hard limits.
const (
	SearchMaxPageSize     = 50
	SearchMaxPages        = 10
	SearchMaxQueryRuntime = 10 * time.Second

	SearchUserRateLimit    = 100 // requests per window per user
	SearchNetworkRateLimit = 200 // requests per window per network address
	SearchRateWindow       = 60 * time.Second
)

// EnvAllowDestructiveOps is the environment switch gating every bulk or
// irreversible delete. Absent or false means every request is denied.
const EnvAllowDestructiveOps = "CONCIERGE_ALLOW_DESTRUCTIVE_OPS"
