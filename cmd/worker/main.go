package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/presence/internal/cache"
	"github.com/your-org/presence/internal/config"
	"github.com/your-org/presence/internal/observability"
	"github.com/your-org/presence/internal/presence"
	"github.com/your-org/presence/internal/queue"
	"github.com/your-org/presence/internal/recognition"
	"github.com/your-org/presence/internal/roster"
	"github.com/your-org/presence/internal/storage"
	"github.com/your-org/presence/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8082", "address for /metrics and /healthz")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting recognition worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
		"tolerance", cfg.Recognition.Tolerance,
		"debounce_window", cfg.Presence.DebounceWindow,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	teardown, err := vision.InitRuntime(os.Getenv("ONNXRUNTIME_LIB"))
	if err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer teardown()

	provider, err := vision.NewONNXProvider(cfg.Vision)
	if err != nil {
		slog.Error("init vision provider", "error", err)
		os.Exit(1)
	}
	defer provider.Close()
	if provider.EmbeddingDim() != cfg.Recognition.EmbeddingDim {
		slog.Error("embedding model and roster disagree on dimension",
			"model", provider.EmbeddingDim(), "roster", cfg.Recognition.EmbeddingDim)
		os.Exit(1)
	}

	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	objects, err := storage.NewObjectStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL, "presence-worker")
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Without a roster every face would be unknown, so this is fatal.
	ros := roster.New(db, cfg.Recognition.EmbeddingDim, cfg.Presence.PersistTimeout)
	if err := ros.Load(ctx); err != nil {
		slog.Error("load roster", "error", err)
		os.Exit(1)
	}
	tracker := presence.NewTracker(db, cfg.Presence.DebounceWindow, cfg.Presence.PersistTimeout)

	deps := recognition.Deps{
		Objects:   objects,
		Vision:    provider,
		Roster:    ros,
		Presence:  tracker,
		Annotator: db,
		Publisher: producer,
	}
	if rdb, err := cache.Connect(ctx, cfg.Redis, 3); err != nil {
		slog.Warn("redis unavailable, report cache will not be invalidated", "error", err)
	} else {
		defer rdb.Close()
		deps.Invalidator = cache.NewReportCache(rdb, cfg.Report.CacheTTL)
	}

	pipeline := recognition.NewPipeline(deps, recognition.Options{
		Tolerance:         cfg.Recognition.Tolerance,
		MinFaceConfidence: float32(cfg.Recognition.MinFaceConfidence),
	})

	consumer, err := queue.NewConsumer(cfg.NATS.URL, "presence-worker-consumer")
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	sub, err := consumer.SubscribeRosterChanged(func(change queue.RosterChange) {
		slog.Info("roster changed", "reason", change.Reason, "identity_id", change.IdentityID)
		if err := ros.Reload(ctx); err != nil {
			slog.Error("reload roster", "error", err)
		}
		tracker.ResetCache()
	})
	if err != nil {
		slog.Error("subscribe to roster changes", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	if err := consumer.ConsumeFrames(ctx, "recognition-workers", pipeline.ProcessFrame, cfg.Vision.WorkerCount); err != nil {
		slog.Error("start frame consumer", "error", err)
		os.Exit(1)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
