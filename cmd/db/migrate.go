package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/config"
	"github/chapool/tx-signer/internal/util/command"
	"github/chapool/tx-signer/migrations"
)

const (
	dialect = "postgres"

	downFlag  = "down"
	limitFlag = "limit"
)

func newMigrate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Applies the embedded schema migrations",
		Long: `Applies all pending migrations to the configured database.
With --down the last applied migrations are rolled back instead (--limit, default 1).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			down, _ := cmd.Flags().GetBool(downFlag)
			limit, _ := cmd.Flags().GetInt(limitFlag)

			return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				return applyMigrations(ctx, db, down, limit)
			})
		},
	}

	cmd.Flags().Bool(downFlag, false, "Roll back instead of applying")
	cmd.Flags().Int(limitFlag, 0, "Maximum number of migrations to apply (0 = all, down defaults to 1)")

	return cmd
}

func newStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Lists applied migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), func(_ context.Context, db *sql.DB) error {
				records, err := migrate.GetMigrationRecords(db, dialect)
				if err != nil {
					return errors.Wrap(err, "failed to read migration records")
				}

				for _, r := range records {
					fmt.Printf("%s\t%s\n", r.AppliedAt.Format("2006-01-02 15:04:05"), r.Id)
				}

				return nil
			})
		},
	}
}

func applyMigrations(ctx context.Context, db *sql.DB, down bool, limit int) error {
	direction := migrate.Up
	if down {
		direction = migrate.Down
		if limit == 0 {
			limit = 1
		}
	}

	n, err := migrate.ExecMaxContext(ctx, db, dialect, migrations.Source(), direction, limit)
	if err != nil {
		return errors.Wrap(err, "failed to execute migrations")
	}

	log.Info().Int("count", n).Bool("down", down).Msg("Migrations executed")

	return nil
}

func withDB(ctx context.Context, f func(ctx context.Context, db *sql.DB) error) error {
	cfg := config.DefaultServiceConfigFromEnv()
	command.SetupLogger(cfg)

	db, err := api.NewDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return f(ctx, db)
}
