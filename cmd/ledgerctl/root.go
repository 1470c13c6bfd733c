package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nobhad/no-bhad-codes-sub015/internal/app"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/platform/db"
)

// runtime carries what every subcommand needs after the root pre-run.
type runtime struct {
	cfg    *app.Config
	logger *slog.Logger
	asOf   time.Time
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}
	var (
		envFile string
		asOf    string
	)
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the billing ledger from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(envFile); err != nil {
				return err
			}
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			day, err := parseAsOf(asOf, time.Now().UTC())
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.logger = app.NewLogger(cfg)
			rt.asOf = day
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&asOf, "as-of", "", "calendar date to run against (YYYY-MM-DD, default today)")

	root.AddCommand(newSweepCmd(rt), newAgingCmd(rt), newJobsCmd(rt))
	return root
}

// loadEnv applies a dotenv file without overriding variables already set. A
// missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func parseAsOf(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return ledger.DateOnly(now), nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
	}
	return d, nil
}

func (rt *runtime) openStore(ctx context.Context) (*ledger.PostgresStore, *pgxpool.Pool, error) {
	pool, err := db.New(ctx, rt.cfg.PGDSN, db.PoolOptions{MaxConns: rt.cfg.PGMaxConns})
	if err != nil {
		return nil, nil, err
	}
	return ledger.NewPostgresStore(pool), pool, nil
}
