package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"matrix-comp/internal/config"
	"matrix-comp/internal/storage/migrations"
	pgstore "matrix-comp/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending PostgreSQL and ClickHouse migrations",
	Long: `Apply the embedded schema migrations.

PostgreSQL migrations are tracked in schema_migrations and applied once each.
ClickHouse migrations run only when a ClickHouse DSN is configured and are
idempotent.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Backend != config.BackendPostgres {
		return fmt.Errorf("migrate needs the postgres backend, got %q", cfg.Storage.Backend)
	}

	ctx := cmd.Context()
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "postgres: up to date")
	}
	for _, version := range applied {
		fmt.Fprintf(out, "postgres: applied %s\n", version)
	}
	logger.Info().Int("applied", len(applied)).Msg("postgres migrations done")

	if cfg.Storage.ClickhouseDSN == "" {
		return nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Fprintln(out, "clickhouse: up to date")
	return nil
}
