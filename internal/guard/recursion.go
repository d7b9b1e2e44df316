package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"concierge-go/internal/constants"
	"concierge-go/internal/logger"
)

// ErrRecursionDepth is returned by AssertSafe when a cascade exceeds the
// configured depth.
var ErrRecursionDepth = errors.New("recursion depth exceeded")

// CheckResult is the recursion guard's decision for one observation.
type CheckResult struct {
	Halt   bool
	Depth  int
	Reason string
}

// RecursionGuard tracks cascade depth per externally-assigned event id and
// halts handlers before they re-trigger each other indefinitely.
//
// This is a best-effort loop breaker, not a correctness mechanism: a
// cascade that mints a fresh event id at each hop evades it entirely, and
// unknown state (store error, TTL expiry mid-cascade) is treated as a
// fresh start rather than a halt. Safety-critical cascades must not rely
// on it exclusively.
type RecursionGuard struct {
	store    CounterStore
	maxDepth int
	ttl      time.Duration
}

// NewRecursionGuard creates a guard over store. Non-positive maxDepth and
// ttl fall back to the design defaults.
func NewRecursionGuard(store CounterStore, maxDepth int, ttl time.Duration) *RecursionGuard {
	if maxDepth <= 0 {
		maxDepth = constants.DefaultMaxRecursionDepth
	}
	if ttl <= 0 {
		ttl = constants.DefaultRecursionCacheTTL
	}
	return &RecursionGuard{
		store:    store,
		maxDepth: maxDepth,
		ttl:      ttl,
	}
}

// Check records one observation of eventID and decides whether the caller
// must halt. The first observation is depth 1; depths up to the maximum
// (default 2: the original invocation plus one legitimate cascade) pass,
// anything deeper halts.
func (g *RecursionGuard) Check(ctx context.Context, eventID, triggerName, documentPath string) CheckResult {
	key := fmt.Sprintf(constants.KeyRecursionDepth, eventID)

	depth64, err := g.store.Incr(ctx, key, g.ttl)
	if err != nil {
		// Unknown state is a fresh start, never a halt.
		logger.Warn().
			Err(err).
			Str("event_id", eventID).
			Str("trigger", triggerName).
			Msg("recursion guard store unavailable, treating as first observation")
		return CheckResult{Halt: false, Depth: 1}
	}
	depth := int(depth64)

	if depth > g.maxDepth {
		reason := fmt.Sprintf("cascade depth %d exceeds maximum %d", depth, g.maxDepth)
		logger.Error().
			Str("event_id", eventID).
			Str("trigger", triggerName).
			Str("document_path", documentPath).
			Int("depth", depth).
			Msg("recursion guard halting handler cascade")
		return CheckResult{Halt: true, Depth: depth, Reason: reason}
	}

	logger.Debug().
		Str("event_id", eventID).
		Str("trigger", triggerName).
		Int("depth", depth).
		Msg("recursion guard pass")
	return CheckResult{Halt: false, Depth: depth}
}

// AssertSafe is the fail-fast variant of Check, for call sites that want
// to short-circuit with an error instead of branching on a flag.
func (g *RecursionGuard) AssertSafe(ctx context.Context, eventID, triggerName, documentPath string) error {
	result := g.Check(ctx, eventID, triggerName, documentPath)
	if result.Halt {
		return fmt.Errorf("%w: %s (event %s, trigger %s)", ErrRecursionDepth, result.Reason, eventID, triggerName)
	}
	return nil
}
