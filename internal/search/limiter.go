package search

import (
	"context"
	"fmt"
	"time"

	"concierge-go/internal/guard"
	"concierge-go/internal/logger"
)

// WindowLimiter is a fixed-window request counter over the pluggable
// guard store: the counter resets each window rather than sliding, which
// is acceptable for abuse deterrence, not billing-grade accounting.
type WindowLimiter struct {
	store     guard.CounterStore
	keyFormat string // fmt pattern taking (id string, windowStart int64)
	limit     int64
	window    time.Duration
	now       func() time.Time
}

// NewWindowLimiter creates a limiter allowing limit requests per window
// per id.
func NewWindowLimiter(store guard.CounterStore, keyFormat string, limit int64, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		store:     store,
		keyFormat: keyFormat,
		limit:     limit,
		window:    window,
		now:       time.Now,
	}
}

// Allow records one request for id and reports whether it is within the
// window budget. A store failure fails open with a warning: the limiter
// deters abuse, it does not guard correctness.
func (l *WindowLimiter) Allow(ctx context.Context, id string) bool {
	if id == "" {
		return true
	}

	windowStart := l.now().Unix() / int64(l.window.Seconds())
	key := keyFor(l.keyFormat, id, windowStart)

	count, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		logger.Warn().Err(err).Str("id", id).Msg("rate limiter store unavailable, allowing request")
		return true
	}
	return count <= l.limit
}

func keyFor(format, id string, windowStart int64) string {
	return fmt.Sprintf(format, id, windowStart)
}
