// Package search mediates every paged, filtered read against the document
// store, enforcing hard caps on page size, page count and wall-clock
// runtime plus per-user and per-network rate limits.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"concierge-go/internal/constants"
	"concierge-go/internal/guard"
	"concierge-go/internal/logger"
	"concierge-go/internal/storage/models"
)

var (
	// ErrRateLimited means the user or network window budget is spent.
	// Distinct from transient failures so callers can choose not to retry.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrPageLimit means the token's page number exceeds the max-pages
	// cap; raised before any database query executes.
	ErrPageLimit = errors.New("pagination limit exceeded")

	// ErrQueryTimeout means the query lost the race against the runtime
	// cap. Partial unordered results would be worse than a clear failure.
	ErrQueryTimeout = errors.New("query timed out")
)

// Partial-outage flags carried on results.
const (
	FlagCursorFailed = "pagination_cursor_failed"
	FlagQueryTimeout = "query_timeout"
)

// allowedFilters is the filter allow-list; anything else is ignored and
// noted in the query plan.
var allowedFilters = map[string]bool{
	"status":       true,
	"type":         true,
	"user_id":      true,
	"vendor_phone": true,
}

// allowedOrderFields is the order-by allow-list.
var allowedOrderFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"id":         true,
}

// Options is one search request.
type Options struct {
	UserID      string
	NetworkAddr string

	Filters   map[string]string
	OrderBy   string
	OrderDesc bool
	Limit     int
	PageToken string
}

// Result carries the page plus the observability fields every response
// includes: the resolved query plan and any partial-outage flags, so
// callers can distinguish "no more data" from "could not fully serve".
type Result struct {
	Results            []models.Job `json:"results"`
	TotalCount         int64        `json:"total_count"`
	NextPageToken      string       `json:"next_page_token,omitempty"`
	QueryPlan          []string     `json:"query_plan"`
	PartialOutageFlags []string     `json:"partial_outage_flags,omitempty"`
	ExecutionTimeMs    int64        `json:"execution_time_ms"`
}

// querySpec is the resolved, capped form of one request handed to the
// runner.
type querySpec struct {
	filters   map[string]string
	orderBy   string
	orderDesc bool
	limit     int
	afterDoc  string
	page      int
}

// runner executes a resolved query; split out so tests can substitute the
// database.
type runner func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error)

// Broker is the single entry point for paginated reads.
type Broker struct {
	db          *gorm.DB
	userLimiter *WindowLimiter
	netLimiter  *WindowLimiter

	maxPageSize int
	maxPages    int
	maxRuntime  time.Duration

	run runner
}

// NewBroker creates a broker with the design-default hard limits.
func NewBroker(db *gorm.DB, store guard.CounterStore) *Broker {
	b := &Broker{
		db: db,
		userLimiter: NewWindowLimiter(store, constants.KeySearchUserWindow,
			constants.SearchUserRateLimit, constants.SearchRateWindow),
		netLimiter: NewWindowLimiter(store, constants.KeySearchNetworkWindow,
			constants.SearchNetworkRateLimit, constants.SearchRateWindow),
		maxPageSize: constants.SearchMaxPageSize,
		maxPages:    constants.SearchMaxPages,
		maxRuntime:  constants.SearchMaxQueryRuntime,
	}
	b.run = b.runGorm
	return b
}

// Execute runs one guarded search.
func (b *Broker) Execute(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()
	result := &Result{}

	// 1. Rate limits come first; a rate-limited request touches nothing.
	if !b.userLimiter.Allow(ctx, opts.UserID) {
		logger.Warn().Str("user_id", opts.UserID).Msg("search rate limit exceeded for user")
		return nil, fmt.Errorf("%w: user %s", ErrRateLimited, opts.UserID)
	}
	if !b.netLimiter.Allow(ctx, opts.NetworkAddr) {
		logger.Warn().Str("network_addr", opts.NetworkAddr).Msg("search rate limit exceeded for network")
		return nil, fmt.Errorf("%w: network %s", ErrRateLimited, opts.NetworkAddr)
	}

	// 2. Resolve the untrusted token and cap the request.
	spec, err := b.buildSpec(ctx, opts, result)
	if err != nil {
		return nil, err
	}

	// 3/4. Run the query raced against the runtime cap.
	rows, total, err := b.runWithTimeout(ctx, spec)
	if err != nil {
		if errors.Is(err, ErrQueryTimeout) {
			// The flag travels with the error so callers can still tell
			// "could not fully serve" apart from a plain failure.
			result.PartialOutageFlags = append(result.PartialOutageFlags, FlagQueryTimeout)
			result.ExecutionTimeMs = time.Since(started).Milliseconds()
			return result, err
		}
		return nil, err
	}

	// The limit+1 probe row signals another page without a second query.
	hasMore := len(rows) > spec.limit
	if hasMore {
		rows = rows[:spec.limit]
	}

	result.Results = rows
	result.TotalCount = total
	if hasMore && len(rows) > 0 {
		result.NextPageToken = encodePageToken(rows[len(rows)-1].ID, spec.page+1)
	}
	result.ExecutionTimeMs = time.Since(started).Milliseconds()

	logger.Debug().
		Str("user_id", opts.UserID).
		Int("rows", len(rows)).
		Int64("total", total).
		Strs("plan", result.QueryPlan).
		Int64("elapsed_ms", result.ExecutionTimeMs).
		Msg("search executed")
	return result, nil
}

// buildSpec validates the token, applies the allow-lists and clamps the
// limit, recording every decision in the result's query plan.
func (b *Broker) buildSpec(ctx context.Context, opts Options, result *Result) (*querySpec, error) {
	spec := &querySpec{
		filters: make(map[string]string),
		orderBy: "created_at",
		page:    1,
	}

	if opts.PageToken != "" {
		cursor, err := decodePageToken(opts.PageToken)
		if err != nil {
			// Malformed tokens degrade to page 1, never to a crash.
			logger.Warn().Err(err).Msg("search page token decode failed, starting from first page")
			result.PartialOutageFlags = append(result.PartialOutageFlags, FlagCursorFailed)
		} else if cursor.Page > b.maxPages {
			return nil, fmt.Errorf("%w: page %d exceeds maximum %d", ErrPageLimit, cursor.Page, b.maxPages)
		} else if fetchErr := b.cursorDocExists(ctx, cursor.DocID); fetchErr != nil {
			logger.Warn().Err(fetchErr).Str("doc_id", cursor.DocID).Msg("search cursor document fetch failed, starting from first page")
			result.PartialOutageFlags = append(result.PartialOutageFlags, FlagCursorFailed)
		} else {
			spec.afterDoc = cursor.DocID
			spec.page = cursor.Page
			result.QueryPlan = append(result.QueryPlan, fmt.Sprintf("cursor after doc %s (page %d)", cursor.DocID, cursor.Page))
		}
	}

	for field, value := range opts.Filters {
		if !allowedFilters[field] {
			result.QueryPlan = append(result.QueryPlan, fmt.Sprintf("filter %s ignored (not allow-listed)", field))
			continue
		}
		spec.filters[field] = value
		result.QueryPlan = append(result.QueryPlan, fmt.Sprintf("filter %s = %s", field, value))
	}

	if opts.OrderBy != "" && allowedOrderFields[opts.OrderBy] {
		spec.orderBy = opts.OrderBy
	}
	spec.orderDesc = opts.OrderDesc
	direction := "asc"
	if spec.orderDesc {
		direction = "desc"
	}
	result.QueryPlan = append(result.QueryPlan, fmt.Sprintf("order by %s %s", spec.orderBy, direction))

	// Over-cap requests clamp silently; the clamp is visible in the plan.
	limit := opts.Limit
	if limit <= 0 {
		limit = b.maxPageSize
	}
	if limit > b.maxPageSize {
		result.QueryPlan = append(result.QueryPlan, fmt.Sprintf("limit %d (clamped from %d)", b.maxPageSize, limit))
		limit = b.maxPageSize
	} else {
		result.QueryPlan = append(result.QueryPlan, fmt.Sprintf("limit %d", limit))
	}
	spec.limit = limit

	return spec, nil
}

// cursorDocExists verifies the cursor's referenced document.
func (b *Broker) cursorDocExists(ctx context.Context, docID string) error {
	if b.db == nil {
		return nil
	}
	var count int64
	if err := b.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", docID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("cursor document %s not found", docID)
	}
	return nil
}

// runWithTimeout races the runner against the wall-clock cap.
func (b *Broker) runWithTimeout(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
	type outcome struct {
		rows  []models.Job
		total int64
		err   error
	}

	queryCtx, cancel := context.WithTimeout(ctx, b.maxRuntime)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		rows, total, err := b.run(queryCtx, spec)
		done <- outcome{rows: rows, total: total, err: err}
	}()

	select {
	case out := <-done:
		return out.rows, out.total, out.err
	case <-queryCtx.Done():
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w after %s", ErrQueryTimeout, b.maxRuntime)
	}
}

// runGorm is the production runner: a count plus a limit+1 page fetch
// with keyset pagination on the document id.
func (b *Broker) runGorm(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
	query := b.db.WithContext(ctx).Model(&models.Job{})
	for field, value := range spec.filters {
		query = query.Where(field+" = ?", value)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count query: %w", err)
	}

	direction := "asc"
	cursorOp := ">"
	if spec.orderDesc {
		direction = "desc"
		cursorOp = "<"
	}

	rowQuery := query.Order(fmt.Sprintf("%s %s, id %s", spec.orderBy, direction, direction))
	if spec.afterDoc != "" {
		rowQuery = rowQuery.Where("id "+cursorOp+" ?", spec.afterDoc)
	}

	var rows []models.Job
	if err := rowQuery.Limit(spec.limit + 1).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("page query: %w", err)
	}
	return rows, total, nil
}
