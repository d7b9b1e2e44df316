package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"concierge-go/internal/api/handler"
	"concierge-go/internal/api/router"
	"concierge-go/internal/completion"
	"concierge-go/internal/config"
	"concierge-go/internal/gateway"
	"concierge-go/internal/guard"
	appLogger "concierge-go/internal/logger"
	"concierge-go/internal/outbox"
	"concierge-go/internal/release"
	"concierge-go/internal/reply"
	"concierge-go/internal/search"
	"concierge-go/internal/storage"
	"concierge-go/internal/tracing"
)

func main() {
	// A missing .env is fine; the environment may be set by the deployment.
	_ = godotenv.Load()

	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("failed to load config: %v", err)
	}

	appLogger.Init(appLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(appLogger.Logger))
	glog.Info("config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		glog.Warnf("tracing init failed, continuing without traces: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("failed to initialize storage: %v", err)
	}
	defer storageManager.Close()
	if storageManager.MySQL == nil {
		glog.Fatalf("mysql is required")
	}
	glog.Info("storage initialized")

	db := storageManager.MySQL.DB()

	// Guard state lives in Redis when available so multiple instances
	// share one view of cascade depth and rate windows.
	var counterStore guard.CounterStore
	if storageManager.Redis != nil {
		counterStore = guard.NewRedisCounterStore(storageManager.Redis)
	} else {
		glog.Warn("redis unavailable, guard counters are process-local")
		counterStore = guard.NewMemoryCounterStore()
	}

	recursionGuard := guard.NewRecursionGuard(counterStore, cfg.Guards.MaxRecursionDepth, cfg.Guards.RecursionCacheTTL)
	deletionGuard := guard.NewDeletionGuard(cfg.Guards.AllowDestructiveOps)

	// External services behind the outbox.
	var completionClient outbox.CompletionClient
	if cfg.Completion.APIKey != "" {
		chatModel, err := completion.NewOpenAICompatModel(&cfg.Completion)
		if err != nil {
			glog.Fatalf("failed to build chat model: %v", err)
		}
		completionClient, err = completion.NewEinoClient(chatModel, &cfg.Completion)
		if err != nil {
			glog.Fatalf("failed to build completion client: %v", err)
		}
		glog.Info("completion client initialized")
	} else {
		glog.Warn("no completion api key configured, completion work will fail until one is set")
	}

	var vendorSender outbox.VendorSender
	if storageManager.RabbitMQ != nil {
		vendorGateway, err := gateway.NewGateway(storageManager.RabbitMQ, &cfg.RabbitMQ)
		if err != nil {
			glog.Fatalf("failed to initialize vendor gateway: %v", err)
		}
		vendorSender = vendorGateway
		glog.Info("vendor gateway initialized")
	} else {
		glog.Warn("rabbitmq unavailable, vendor messages will fail until it returns")
	}

	// Outbox service and relay.
	var archive storage.EvidenceArchive
	if storageManager.MinIO != nil {
		archive = storageManager.MinIO
	}
	outboxService := outbox.NewService(db, archive, cfg.Guards.OutboxMaxAttempts, cfg.Guards.EvidenceInlineLimitBytes)
	dispatcher := outbox.NewWorkDispatcher(completionClient, vendorSender)
	relay := outbox.NewRelay(db, outboxService, dispatcher).
		WithPolling(cfg.Guards.OutboxPollInterval, cfg.Guards.OutboxBatchSize)
	relay.Start()
	glog.Info("outbox relay started")

	// Sweeps.
	jobRepo := storage.NewJobRepository(db)
	releaseStore := release.NewGormStore(db)
	releaser := release.NewReleaser(releaseStore, cfg.Guards.StuckJobThreshold, cfg.Guards.StuckJobBatchSize)
	orphanCleanup := release.NewOrphanCleanup(releaseStore, deletionGuard)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Guards.StuckJobSweepSchedule, func() {
		releaser.ReleaseStuckJobs(context.Background(), "sweep-"+uuid.NewString())
	})
	if err != nil {
		glog.Fatalf("failed to schedule stuck-job sweep: %v", err)
	}
	_, err = scheduler.AddFunc(cfg.Guards.OrphanCleanupSchedule, func() {
		orphanCleanup.Run(context.Background(), release.OrphanCleanupOptions{
			DryRun:  cfg.Guards.OrphanCleanupDryRun,
			TraceID: "sweep-" + uuid.NewString(),
			Caller:  "scheduler",
		})
	})
	if err != nil {
		glog.Fatalf("failed to schedule orphan cleanup: %v", err)
	}
	scheduler.Start()
	glog.Info("sweep scheduler started")

	// Handlers and routes.
	replyParser := reply.NewParser()
	searchBroker := search.NewBroker(db, counterStore)

	replyHandler := handler.NewVendorReplyHandler(recursionGuard, replyParser, jobRepo)
	handlers := &router.Handlers{
		Jobs:        handler.NewJobHandler(jobRepo, outboxService, cfg.RabbitMQ.DefaultRegion),
		Search:      handler.NewSearchHandler(searchBroker),
		VendorReply: replyHandler,
		Admin:       handler.NewAdminHandler(releaser, orphanCleanup, outboxService),
	}

	// Vendor replies also arrive over the broker queue.
	var stopConsumer chan struct{}
	if storageManager.RabbitMQ != nil && cfg.RabbitMQ.VendorReplyQueue != "" {
		prefetch := cfg.RabbitMQ.ConsumerPrefetchCount
		if prefetch <= 0 {
			prefetch = 10
		}
		stopConsumer, err = replyHandler.StartReplyConsumer(storageManager.RabbitMQ, cfg.RabbitMQ.VendorReplyQueue, prefetch)
		if err != nil {
			glog.Fatalf("failed to start vendor reply consumer: %v", err)
		}
		glog.Info("vendor reply consumer started")
	}

	serverTracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		serverTracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, handlers, splitKeys(cfg.Server.AdminAPIKeys))
	glog.Infof("http server listening on %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("shutdown signal received")

	relay.Stop()
	scheduler.Stop()
	if stopConsumer != nil {
		close(stopConsumer)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("server shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Errorf("tracer shutdown failed: %v", err)
	}
	glog.Info("shutdown complete")
}

func splitKeys(raw string) []string {
	var keys []string
	for _, key := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}
