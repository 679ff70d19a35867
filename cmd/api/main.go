package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/presence/internal/api"
	"github.com/your-org/presence/internal/api/ws"
	"github.com/your-org/presence/internal/cache"
	"github.com/your-org/presence/internal/config"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/observability"
	"github.com/your-org/presence/internal/presence"
	"github.com/your-org/presence/internal/queue"
	"github.com/your-org/presence/internal/report"
	"github.com/your-org/presence/internal/roster"
	"github.com/your-org/presence/internal/storage"
	"github.com/your-org/presence/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting presence API service", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("apply migrations", "error", err)
		os.Exit(1)
	}

	objects, err := storage.NewObjectStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL, "presence-api")
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	var reportCache *cache.ReportCache
	if rdb, err := cache.Connect(ctx, cfg.Redis, 3); err != nil {
		slog.Warn("redis unavailable, reports will not be cached", "error", err)
	} else {
		defer rdb.Close()
		reportCache = cache.NewReportCache(rdb, cfg.Report.CacheTTL)
	}

	ros := roster.New(db, cfg.Recognition.EmbeddingDim, cfg.Presence.PersistTimeout)
	if err := ros.Load(ctx); err != nil {
		slog.Error("load roster", "error", err)
		os.Exit(1)
	}
	tracker := presence.NewTracker(db, cfg.Presence.DebounceWindow, cfg.Presence.PersistTimeout)

	reportOpts, err := report.OptionsFromConfig(cfg.Report, cfg.Presence.PersistTimeout)
	if err != nil {
		slog.Error("report options", "error", err)
		os.Exit(1)
	}
	var reportStoreCache report.Cache
	if reportCache != nil {
		reportStoreCache = reportCache
	}
	reports := report.NewService(db, reportStoreCache, reportOpts)

	hub := ws.NewHub()
	go hub.Run()

	consumer, err := queue.NewConsumer(cfg.NATS.URL, "presence-api-consumer")
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	host, _ := os.Hostname()
	err = consumer.ConsumeAttendance(ctx, "api-ws-"+queue.SanitizeToken(host), func(ctx context.Context, msg models.AttendanceMessage) error {
		hub.BroadcastAttendance(msg)
		return nil
	})
	if err != nil {
		slog.Warn("start attendance consumer, websocket feed disabled", "error", err)
	}

	sub, err := consumer.SubscribeRosterChanged(func(change queue.RosterChange) {
		slog.Info("roster changed", "reason", change.Reason, "identity_id", change.IdentityID)
		if err := ros.Reload(ctx); err != nil {
			slog.Error("reload roster", "error", err)
		}
		tracker.ResetCache()
	})
	if err != nil {
		slog.Warn("subscribe to roster changes", "error", err)
	} else {
		defer sub.Unsubscribe()
	}

	// Enrollment from images needs the models; everything else works without.
	var provider vision.Provider
	if teardown, err := vision.InitRuntime(os.Getenv("ONNXRUNTIME_LIB")); err != nil {
		slog.Warn("onnx runtime unavailable, image enrollment disabled", "error", err)
	} else {
		defer teardown()
		p, err := vision.NewONNXProvider(cfg.Vision)
		if err != nil {
			slog.Warn("load vision models, image enrollment disabled", "error", err)
		} else {
			defer p.Close()
			provider = p
		}
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		ReportRPS:    cfg.Server.ReportRPS,
		ReportBurst:  cfg.Server.ReportBurst,
		Tolerance:    cfg.Recognition.Tolerance,
		MaxClockSkew: cfg.Presence.MaxClockSkew,
		Roster:       ros,
		Tracker:      tracker,
		Reports:      reports,
		DB:           db,
		Objects:      objects,
		Producer:     producer,
		Hub:          hub,
		Cache:        reportCache,
		Vision:       provider,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("API server stopped")
}
