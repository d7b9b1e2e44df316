package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge-go/internal/guard"
	"concierge-go/internal/storage/models"
)

func testBroker(run runner) *Broker {
	store := guard.NewMemoryCounterStore()
	b := &Broker{
		userLimiter: NewWindowLimiter(store, "test:rate:user:%s:%d", 100, time.Minute),
		netLimiter:  NewWindowLimiter(store, "test:rate:net:%s:%d", 200, time.Minute),
		maxPageSize: 50,
		maxPages:    10,
		maxRuntime:  10 * time.Second,
		run:         run,
	}
	return b
}

func jobRows(n int) []models.Job {
	rows := make([]models.Job, n)
	for i := range rows {
		rows[i] = models.Job{ID: fmt.Sprintf("job-%03d", i)}
	}
	return rows
}

func TestExecuteClampsPageSize(t *testing.T) {
	var gotLimit int
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		gotLimit = spec.limit
		return jobRows(spec.limit), int64(spec.limit), nil
	})

	result, err := broker.Execute(context.Background(), Options{
		UserID:      "u-1",
		NetworkAddr: "10.0.0.1",
		Limit:       500,
	})
	require.NoError(t, err)

	assert.Equal(t, 50, gotLimit, "requests over the cap must be clamped, not rejected")
	assert.LessOrEqual(t, len(result.Results), 50)

	var clampNoted bool
	for _, step := range result.QueryPlan {
		if strings.Contains(step, "clamped") {
			clampNoted = true
		}
	}
	assert.True(t, clampNoted, "the clamp must be visible in the query plan")
}

func TestExecuteDefaultsLimit(t *testing.T) {
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		assert.Equal(t, 50, spec.limit)
		return nil, 0, nil
	})

	_, err := broker.Execute(context.Background(), Options{UserID: "u-1", NetworkAddr: "10.0.0.1"})
	require.NoError(t, err)
}

func TestExecutePageOverCapFailsBeforeQuery(t *testing.T) {
	var queried bool
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		queried = true
		return nil, 0, nil
	})

	token := encodePageToken("job-001", 11)
	_, err := broker.Execute(context.Background(), Options{
		UserID:      "u-1",
		NetworkAddr: "10.0.0.1",
		PageToken:   token,
	})

	require.ErrorIs(t, err, ErrPageLimit)
	assert.False(t, queried, "the page cap must be checked before any query runs")
}

func TestExecuteMalformedTokenDegradesToFirstPage(t *testing.T) {
	var gotAfterDoc string
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		gotAfterDoc = spec.afterDoc
		return jobRows(3), 3, nil
	})

	result, err := broker.Execute(context.Background(), Options{
		UserID:      "u-1",
		NetworkAddr: "10.0.0.1",
		PageToken:   "!!!not-base64!!!",
	})
	require.NoError(t, err, "a malformed token is degraded, never fatal")

	assert.Empty(t, gotAfterDoc, "malformed token must reset to the first page")
	assert.Contains(t, result.PartialOutageFlags, FlagCursorFailed)
}

func TestExecuteValidTokenResumesCursor(t *testing.T) {
	var gotSpec *querySpec
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		gotSpec = spec
		return jobRows(3), 3, nil
	})

	token := encodePageToken("job-017", 3)
	result, err := broker.Execute(context.Background(), Options{
		UserID:      "u-1",
		NetworkAddr: "10.0.0.1",
		PageToken:   token,
	})
	require.NoError(t, err)

	require.NotNil(t, gotSpec)
	assert.Equal(t, "job-017", gotSpec.afterDoc)
	assert.Equal(t, 3, gotSpec.page)
	assert.Empty(t, result.PartialOutageFlags)
}

func TestExecuteNextPageToken(t *testing.T) {
	// The probe row beyond the limit signals another page.
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		return jobRows(spec.limit + 1), 120, nil
	})

	result, err := broker.Execute(context.Background(), Options{
		UserID:      "u-1",
		NetworkAddr: "10.0.0.1",
		Limit:       10,
	})
	require.NoError(t, err)

	assert.Len(t, result.Results, 10, "the probe row must not leak into the page")
	require.NotEmpty(t, result.NextPageToken)

	cursor, err := decodePageToken(result.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, result.Results[9].ID, cursor.DocID)
	assert.Equal(t, 2, cursor.Page)
}

func TestExecuteLastPageHasNoToken(t *testing.T) {
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		return jobRows(4), 4, nil
	})

	result, err := broker.Execute(context.Background(), Options{
		UserID:      "u-1",
		NetworkAddr: "10.0.0.1",
		Limit:       10,
	})
	require.NoError(t, err)
	assert.Empty(t, result.NextPageToken)
}

func TestExecuteFilterAllowList(t *testing.T) {
	var gotFilters map[string]string
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		gotFilters = spec.filters
		return nil, 0, nil
	})

	result, err := broker.Execute(context.Background(), Options{
		UserID:      "u-1",
		NetworkAddr: "10.0.0.1",
		Filters: map[string]string{
			"status":            "pending",
			"user_id":           "u-7",
			"payload; DROP ALL": "x",
			"secret_field":      "y",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"status": "pending", "user_id": "u-7"}, gotFilters)

	var ignored int
	for _, step := range result.QueryPlan {
		if strings.Contains(step, "not allow-listed") {
			ignored++
		}
	}
	assert.Equal(t, 2, ignored)
}

func TestExecuteOrderByAllowList(t *testing.T) {
	var gotOrder string
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		gotOrder = spec.orderBy
		return nil, 0, nil
	})

	_, err := broker.Execute(context.Background(), Options{
		UserID:      "u-1",
		NetworkAddr: "10.0.0.1",
		OrderBy:     "payload",
	})
	require.NoError(t, err)
	assert.Equal(t, "created_at", gotOrder, "a non-allow-listed order field falls back to the default")
}

func TestExecuteQueryTimeout(t *testing.T) {
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		<-ctx.Done()
		return nil, 0, ctx.Err()
	})
	broker.maxRuntime = 20 * time.Millisecond

	result, err := broker.Execute(context.Background(), Options{
		UserID:      "u-1",
		NetworkAddr: "10.0.0.1",
	})
	require.ErrorIs(t, err, ErrQueryTimeout)

	// The flag rides along with the error.
	require.NotNil(t, result)
	assert.Contains(t, result.PartialOutageFlags, FlagQueryTimeout)
}

func TestExecuteUserRateLimit(t *testing.T) {
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		return nil, 0, nil
	})
	// A tight limit keeps the test fast.
	broker.userLimiter = NewWindowLimiter(guard.NewMemoryCounterStore(), "test:rate:user:%s:%d", 2, time.Minute)

	opts := Options{UserID: "u-1", NetworkAddr: "10.0.0.1"}
	for i := 0; i < 2; i++ {
		_, err := broker.Execute(context.Background(), opts)
		require.NoError(t, err)
	}

	_, err := broker.Execute(context.Background(), opts)
	require.ErrorIs(t, err, ErrRateLimited)

	// A different user in the same window is unaffected.
	_, err = broker.Execute(context.Background(), Options{UserID: "u-2", NetworkAddr: "10.0.0.1"})
	assert.NoError(t, err)
}

func TestExecuteNetworkRateLimitSharedAcrossUsers(t *testing.T) {
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		return nil, 0, nil
	})
	broker.netLimiter = NewWindowLimiter(guard.NewMemoryCounterStore(), "test:rate:net:%s:%d", 2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := broker.Execute(context.Background(), Options{
			UserID:      fmt.Sprintf("u-%d", i),
			NetworkAddr: "10.0.0.1",
		})
		require.NoError(t, err)
	}

	_, err := broker.Execute(context.Background(), Options{UserID: "u-99", NetworkAddr: "10.0.0.1"})
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestExecuteQueryErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	broker := testBroker(func(ctx context.Context, spec *querySpec) ([]models.Job, int64, error) {
		return nil, 0, boom
	})

	_, err := broker.Execute(context.Background(), Options{UserID: "u-1", NetworkAddr: "10.0.0.1"})
	require.ErrorIs(t, err, boom)
}

func TestWindowLimiterFailsOpen(t *testing.T) {
	limiter := NewWindowLimiter(failingCounterStore{}, "test:rate:user:%s:%d", 1, time.Minute)
	assert.True(t, limiter.Allow(context.Background(), "u-1"),
		"a broken counter store must not block reads")
}

type failingCounterStore struct{}

func (failingCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("store unavailable")
}
