package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/your-org/presence/internal/cache"
	"github.com/your-org/presence/internal/purge"
	"github.com/your-org/presence/internal/queue"
	"github.com/your-org/presence/internal/storage"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all attendance history",
	Long: `Delete every attendance event together with stored face snapshots and
buffered frames, and invalidate cached reports. With --include-identities the
roster and enrollment images are removed as well.

Nothing happens without --yes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !mustGetBool(cmd, "yes") {
			return errors.New("refusing to purge without --yes")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		db, err := openDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		svc := &purge.Service{Records: db}
		if objects, err := storage.NewObjectStore(cfg.MinIO); err != nil {
			slog.Warn("minio unavailable, objects kept", "error", err)
		} else {
			svc.Objects = objects
		}
		if rdb, err := cache.Connect(ctx, cfg.Redis, 1); err != nil {
			slog.Warn("redis unavailable, cached reports kept until they expire", "error", err)
		} else {
			defer rdb.Close()
			svc.Cache = cache.NewReportCache(rdb, cfg.Report.CacheTTL)
		}
		if producer, err := queue.NewProducer(cfg.NATS.URL, "attendancectl"); err != nil {
			slog.Warn("nats unavailable, running workers were not notified", "error", err)
		} else {
			defer producer.Close()
			svc.Notifier = producer
		}

		res, err := svc.Run(ctx, mustGetBool(cmd, "include-identities"))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("deleted %d events, %d identities\n", res.Events, res.Identities)
		prefixes := make([]string, 0, len(res.Objects))
		for p := range res.Objects {
			prefixes = append(prefixes, p)
		}
		sort.Strings(prefixes)
		for _, p := range prefixes {
			fmt.Printf("deleted %d objects under %s\n", res.Objects[p], p)
		}
		return nil
	},
}

func init() {
	purgeCmd.Flags().Bool("include-identities", false, "also delete the roster")
	purgeCmd.Flags().Bool("yes", false, "confirm the purge")
	rootCmd.AddCommand(purgeCmd)
}
