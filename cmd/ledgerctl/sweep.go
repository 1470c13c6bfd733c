package main

import (
	"fmt"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/nobhad/no-bhad-codes-sub015/internal/billing"
	"github.com/nobhad/no-bhad-codes-sub015/internal/recurring"
	"github.com/nobhad/no-bhad-codes-sub015/internal/reminders"
	"github.com/nobhad/no-bhad-codes-sub015/internal/scheduled"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
	"github.com/nobhad/no-bhad-codes-sub015/jobs"
)

// newSweepCmd runs the periodic sweeps in-process, bypassing the queue.
func newSweepCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a ledger sweep immediately in this process",
		Example: `  ledgerctl sweep recurring --as-of 2026-05-01
  ledgerctl sweep reminders
  ledgerctl sweep milestone 42`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "recurring",
		Short: "Generate invoices from due recurring patterns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, pool, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			svc := recurring.NewService(store, rt.cfg.Billing(), rt.cfg.CatchUp(), rt.logger)
			result, err := svc.GenerateDue(ctx, rt.asOf)
			fmt.Fprintf(cmd.OutOrStdout(), "generated=%d deactivated=%d skipped=%d\n", len(result.Generated), result.Deactivated, result.Skipped)
			for _, inv := range result.Generated {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s client=%d total=%s %s\n", inv.Number, inv.ClientID, inv.AmountTotal.StringFixed(2), inv.Currency)
			}
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "scheduled",
		Short: "Fire scheduled invoices whose date has arrived",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, pool, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			svc := scheduled.NewService(store, rt.cfg.Billing(), rt.logger)
			result, err := svc.FireDue(ctx, rt.asOf)
			fmt.Fprintf(cmd.OutOrStdout(), "generated=%d skipped=%d\n", len(result.Generated), result.Skipped)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "milestone <milestone-id>",
		Short: "Fire scheduled invoices waiting on a completed milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("milestone id must be a positive integer")
			}
			ctx := cmd.Context()
			store, pool, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			svc := scheduled.NewService(store, rt.cfg.Billing(), rt.logger)
			result, err := svc.OnMilestoneCompleted(ctx, id, rt.asOf)
			fmt.Fprintf(cmd.OutOrStdout(), "generated=%d skipped=%d\n", len(result.Generated), result.Skipped)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reminders",
		Short: "Ensure and send payment reminders; email is queued for the worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, pool, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: rt.cfg.RedisAddr, Password: rt.cfg.RedisPassword, DB: rt.cfg.RedisDB})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			svc := reminders.NewService(store, reminders.NewPostgresDirectory(pool), client, rt.logger)
			svc.SetConcurrency(rt.cfg.ReminderConcurrency)
			result, err := svc.Sweep(ctx, rt.asOf)
			fmt.Fprintf(cmd.OutOrStdout(), "invoices=%d created=%d sent=%d skipped=%d failed=%d\n",
				result.Invoices, result.Created, result.Sent, result.Skipped, result.Failed)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "late-fees",
		Short: "Apply late fees to overdue invoices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, pool, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			svc := billing.NewService(store, rt.cfg.Billing(), rt.logger)
			svc.SetAudit(shared.NewAuditLogger(pool))
			applied, err := svc.ApplyDueLateFees(ctx, rt.asOf)
			fmt.Fprintf(cmd.OutOrStdout(), "applied=%d\n", applied)
			return err
		},
	})

	return cmd
}
