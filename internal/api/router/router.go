// Package router registers the HTTP routes.
package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"concierge-go/internal/api/handler"
)

// Handlers bundles everything the router wires up.
type Handlers struct {
	Jobs        *handler.JobHandler
	Search      *handler.SearchHandler
	VendorReply *handler.VendorReplyHandler
	Admin       *handler.AdminHandler
}

// RegisterRoutes registers all routes. Admin routes require one of the
// configured API keys as a bearer token.
func RegisterRoutes(h *server.Hertz, handlers *Handlers, adminAPIKeys []string) {
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	h.POST("/webhook/vendor-reply", handlers.VendorReply.HandleVendorReply)

	api := h.Group("/api/v1")
	api.POST("/jobs", handlers.Jobs.HandleCreateJob)
	api.GET("/jobs/search", handlers.Search.HandleSearchJobs)
	api.GET("/jobs/:job_id", handlers.Jobs.HandleGetJob)

	admin := h.Group("/admin")
	admin.Use(adminAuth(adminAPIKeys))
	admin.POST("/sweeps/stuck-jobs", handlers.Admin.HandleReleaseStuckJobs)
	admin.POST("/sweeps/orphans", handlers.Admin.HandleOrphanCleanup)
	admin.GET("/jobs/:job_id/stuck", handlers.Admin.HandleIsJobStuck)
	admin.GET("/outbox/:outbox_id", handlers.Admin.HandleGetOutboxEntry)
}

func adminAuth(apiKeys []string) app.HandlerFunc {
	allowed := make(map[string]bool, len(apiKeys))
	for _, key := range apiKeys {
		if key != "" {
			allowed[key] = true
		}
	}

	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			// No keys configured means the admin surface is closed,
			// not open.
			return allowed[key], nil
		}),
	)
}
