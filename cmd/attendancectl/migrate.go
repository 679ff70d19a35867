package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if err := db.Migrate(ctx); err != nil {
			return err
		}
		applied, err := db.MigrationsApplied(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"applied": applied})
		}
		for _, v := range applied {
			fmt.Println(v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
