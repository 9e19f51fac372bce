package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/infra/sqlite"
)

func newMigrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the sqlite records-store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = cfg.SQLitePath
			}
			// Open applies pending migrations.
			db, err := sqlite.Open(cmd.Context(), path, logger)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", path, err)
			}
			defer db.Close()

			v, err := db.Version(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("schema up to date", zap.String("path", path), zap.Int("version", v))
			cmd.Printf("%s: schema version %d\n", path, v)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "database file (defaults to SQLITE_PATH)")
	return cmd
}
