// Command attendancectl administers the presence database: migrations,
// enrollment, status and report queries, and purges.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/your-org/presence/internal/config"
	"github.com/your-org/presence/internal/observability"
	"github.com/your-org/presence/internal/storage"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "attendancectl",
	Short: "Administer the presence tracking database",
	Long: `attendancectl talks directly to Postgres (and MinIO/NATS where needed)
to run migrations, enroll identities, inspect presence and print reports.

Configuration comes from --config when the file exists, otherwise from
PRESENCE_* environment variables. A .env file in the working directory is
loaded first.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
}

func initEnv() {
	// .env is optional
	_ = godotenv.Load()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	observability.SetupLogger(cfg.Logging.Level, "text")
	return cfg, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*storage.PostgresStore, error) {
	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return db, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
