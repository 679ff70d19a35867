package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/presence/internal/config"
	"github.com/your-org/presence/internal/models"
	"github.com/your-org/presence/internal/queue"
	"github.com/your-org/presence/internal/roster"
	"github.com/your-org/presence/internal/vision"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Register or replace an identity",
	Long: `Register an identity from a precomputed embedding (a JSON array of
numbers) or from one or more face images. With several images the per-image
embeddings are averaged.

Examples:
  attendancectl enroll --name "Ada Lovelace" --embedding ada.json
  attendancectl enroll --name "Ada Lovelace" --id 7 --image a.jpg --image b.jpg`,
	Args: cobra.NoArgs,
	RunE: runEnroll,
}

func init() {
	enrollCmd.Flags().String("name", "", "display name (required)")
	enrollCmd.Flags().Int64("id", 0, "identity id; 0 lets the database assign one")
	enrollCmd.Flags().String("embedding", "", "path to a JSON file holding the embedding")
	enrollCmd.Flags().StringSlice("image", nil, "face image, may be repeated")
	enrollCmd.Flags().Bool("notify", true, "tell running workers to reload the roster")
	_ = enrollCmd.MarkFlagRequired("name")
	enrollCmd.MarkFlagsOneRequired("embedding", "image")
	enrollCmd.MarkFlagsMutuallyExclusive("embedding", "image")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var emb []float32
	if path := mustGetString(cmd, "embedding"); path != "" {
		if emb, err = readEmbedding(path); err != nil {
			return err
		}
	} else {
		if emb, err = embedImages(ctx, cfg.Vision, mustGetStringSlice(cmd, "image")); err != nil {
			return err
		}
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ros := roster.New(db, cfg.Recognition.EmbeddingDim, cfg.Presence.PersistTimeout)
	if err := ros.Load(ctx); err != nil {
		return err
	}
	ident, err := ros.Add(ctx, models.Identity{
		ID:        mustGetInt64(cmd, "id"),
		Name:      mustGetString(cmd, "name"),
		Embedding: emb,
	})
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "notify") {
		notifyWorkers(cfg.NATS.URL, queue.RosterChange{Reason: "enrolled", IdentityID: ident.ID, At: time.Now().UTC()})
	}

	if jsonOutput {
		return printJSON(map[string]any{"id": ident.ID, "name": ident.Name, "embedding_dim": len(ident.Embedding)})
	}
	fmt.Printf("enrolled %q as identity %d\n", ident.Name, ident.ID)
	return nil
}

func readEmbedding(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embedding: %w", err)
	}
	var emb []float32
	if err := json.Unmarshal(data, &emb); err != nil {
		return nil, fmt.Errorf("parse embedding %s: %w", path, err)
	}
	return emb, nil
}

func embedImages(ctx context.Context, cfg config.VisionConfig, paths []string) ([]float32, error) {
	teardown, err := vision.InitRuntime(os.Getenv("ONNXRUNTIME_LIB"))
	if err != nil {
		return nil, err
	}
	defer teardown()
	provider, err := vision.NewONNXProvider(cfg)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	samples := make([][]float32, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		faces, err := provider.DetectAndEncode(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		best, err := vision.BestFace(faces)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		samples = append(samples, best.Embedding)
	}
	return vision.AverageEmbedding(samples)
}

// notifyWorkers is best-effort; workers also pick up changes on restart.
func notifyWorkers(natsURL string, change queue.RosterChange) {
	producer, err := queue.NewProducer(natsURL, "attendancectl")
	if err != nil {
		slog.Warn("connect to nats, running workers were not notified", "error", err)
		return
	}
	defer producer.Close()
	if err := producer.NotifyRosterChanged(change); err != nil {
		slog.Warn("notify roster change", "error", err)
	}
}
