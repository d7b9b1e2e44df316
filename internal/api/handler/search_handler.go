package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"concierge-go/internal/search"
)

// SearchHandler fronts the search broker.
type SearchHandler struct {
	broker *search.Broker
}

// NewSearchHandler creates the search handler.
func NewSearchHandler(broker *search.Broker) *SearchHandler {
	return &SearchHandler{broker: broker}
}

// HandleSearchJobs runs a guarded, paginated job search. Filters arrive
// as plain query params; anything the broker's allow-list rejects is
// ignored, not an error.
// GET /api/v1/jobs/search
func (h *SearchHandler) HandleSearchJobs(ctx context.Context, c *app.RequestContext) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "user_id is required"})
		return
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}

	filters := make(map[string]string)
	for _, field := range []string{"status", "type", "vendor_phone"} {
		if value := c.Query(field); value != "" {
			filters[field] = value
		}
	}
	filters["user_id"] = userID

	opts := search.Options{
		UserID:      userID,
		NetworkAddr: c.ClientIP(),
		Filters:     filters,
		OrderBy:     c.Query("order_by"),
		OrderDesc:   c.Query("order") == "desc",
		Limit:       limit,
		PageToken:   c.Query("page_token"),
	}

	result, err := h.broker.Execute(ctx, opts)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrRateLimited):
			c.JSON(consts.StatusTooManyRequests, utils.H{"error": err.Error()})
		case errors.Is(err, search.ErrPageLimit):
			c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		case errors.Is(err, search.ErrQueryTimeout):
			body := utils.H{"error": err.Error()}
			if result != nil {
				body["partial_outage_flags"] = result.PartialOutageFlags
			}
			c.JSON(consts.StatusGatewayTimeout, body)
		default:
			c.JSON(consts.StatusInternalServerError, utils.H{"error": "search failed"})
		}
		return
	}

	c.JSON(consts.StatusOK, result)
}
