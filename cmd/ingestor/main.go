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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/presence/internal/config"
	"github.com/your-org/presence/internal/ingest"
	"github.com/your-org/presence/internal/observability"
	"github.com/your-org/presence/internal/queue"
	"github.com/your-org/presence/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8081", "address for /metrics and /healthz")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	if len(cfg.Cameras) == 0 {
		slog.Error("no cameras configured")
		os.Exit(1)
	}
	slog.Info("starting ingestor", "cameras", len(cfg.Cameras), "frame_retention", cfg.Storage.FrameRetention)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	objects, err := storage.NewObjectStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL, "presence-ingestor")
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	manager := ingest.NewManager(ingest.FFmpegExtractor{Binary: os.Getenv("FFMPEG_BIN")},
		objects, producer, cfg.Vision.FrameWidth, cfg.Storage.FrameRetention)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","active_cameras":%d,"configured_cameras":%d}`,
			manager.ActiveCount(), len(cfg.Cameras))
	})
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		slog.Info("ingestor metrics listening", "addr", *metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	manager.Run(ctx, cfg.Cameras)
	_ = metricsSrv.Close()

	slog.Info("ingestor stopped")
}
