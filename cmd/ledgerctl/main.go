// Command ledgerctl runs balance checks, reconciliation and subscription
// billing against the configured store without starting the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ruralpay/fintrack/internal/app"
	"github.com/ruralpay/fintrack/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configFile string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Operate on ledger balances",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", ".env", "settings file")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall deadline")

	root.AddCommand(
		newCheckCmd(opts),
		newReconcileCmd(opts),
		newSnapshotCmd(opts),
		newBillCmd(opts),
	)
	return root
}

// run loads settings, builds the app and hands it to fn under the deadline.
func run(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app.App) (any, error)) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCheckCmd(opts *options) *cobra.Command {
	var accountIDs []string
	var failOnMismatch bool
	cmd := &cobra.Command{
		Use:   "check [account-id...]",
		Short: "Compare cached balances with the ledger replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountIDs = append(accountIDs, args...)
			mismatches := 0
			err := run(cmd, opts, func(ctx context.Context, a *app.App) (any, error) {
				report, err := a.Reconciler.Check(ctx, accountIDs)
				if err != nil {
					return nil, err
				}
				mismatches = len(report.Mismatches) + len(report.Failures)
				return report, nil
			})
			if err != nil {
				return err
			}
			if failOnMismatch && mismatches > 0 {
				return fmt.Errorf("%d accounts out of balance", mismatches)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&accountIDs, "account", nil, "account id to check (repeatable, default all)")
	cmd.Flags().BoolVar(&failOnMismatch, "fail-on-mismatch", false, "exit non-zero when any account drifted")
	return cmd
}

func newReconcileCmd(opts *options) *cobra.Command {
	var accountIDs []string
	cmd := &cobra.Command{
		Use:   "reconcile [account-id...]",
		Short: "Overwrite drifted cached balances with the ledger replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountIDs = append(accountIDs, args...)
			return run(cmd, opts, func(ctx context.Context, a *app.App) (any, error) {
				return a.Reconciler.Reconcile(ctx, accountIDs)
			})
		},
	}
	cmd.Flags().StringSliceVar(&accountIDs, "account", nil, "account id to reconcile (repeatable, default all)")
	return cmd
}

func newSnapshotCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print every cached balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app.App) (any, error) {
				return a.Ledger.Snapshot(ctx)
			})
		},
	}
}

func newBillCmd(opts *options) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "bill",
		Short: "Charge every subscription due on or before a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC()
			if asOf != "" {
				parsed, err := time.Parse("2006-01-02", asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				date = parsed
			}
			return run(cmd, opts, func(ctx context.Context, a *app.App) (any, error) {
				report, err := a.Subscriptions.BillDue(ctx, date)
				if report != nil {
					log.Printf("[BILLING] %d charged, %d failed", len(report.Charged), len(report.Failed))
				}
				return report, err
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "billing date as YYYY-MM-DD (default today)")
	return cmd
}
