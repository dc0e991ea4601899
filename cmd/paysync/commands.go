package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/go-paysync/internal/broker"
	"github.com/Guizzs26/go-paysync/internal/models"
	"github.com/Guizzs26/go-paysync/internal/service"
	"github.com/Guizzs26/go-paysync/pkg/infra"
)

func runCmd(env *environment) *cobra.Command {
	cfg := env.cfg
	var opts service.RunOptions
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch payments from the providers, stage and promote them",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch service.Mode(mode) {
			case service.ModeImmediate, service.ModeBulk:
				opts.Mode = service.Mode(mode)
			default:
				return fmt.Errorf("invalid --mode %q: want immediate or bulk", mode)
			}
			if opts.Limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, env, true)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.sync.Run(ctx, opts)
			a.logger.Info("Sync statistics",
				"total", stats.TotalRecords,
				"successful", stats.Successful,
				"failed", stats.Failed,
				"skipped", stats.Skipped,
				"warnings", stats.Warnings,
				"duration_ms", stats.DurationMs,
			)
			return err
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", cfg.SyncLimit, "Maximum payments per provider, 0 for all")
	cmd.Flags().StringVar(&mode, "mode", cfg.SyncMode, "Promotion mode (immediate, bulk)")
	cmd.Flags().StringSliceVarP(&opts.Providers, "provider", "p", nil, "Only sync these providers")
	cmd.Flags().BoolVar(&opts.Incremental, "incremental", cfg.Incremental, "Only fetch payments since the last completed run")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", cfg.DryRun, "Match payments without writing anything")
	return cmd
}

func promoteCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Promote everything staged to production, then create missing orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, env, false)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, orders, err := a.sync.PromoteStaged(ctx)
			if summary != nil {
				a.logger.Info("Promotion finished",
					"production_writes", summary.Writes(),
					"ticket_stage_aborted", summary.TicketStageAborted,
					"orders_created", orders.Created,
				)
			}
			return err
		},
	}
}

func cleanupErrorsCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-errors <paymentId>...",
		Short: "Remove the recorded errors of payments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, env, false)
			if err != nil {
				return err
			}
			defer a.Close()

			total := 0
			for _, id := range args {
				n, err := a.errors.Cleanup(ctx, id)
				if err != nil {
					return err
				}
				total += n
			}
			a.logger.Info("Payment errors cleaned", "payments", len(args), "deleted", total)
			return nil
		},
	}
}

func verifyCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check recorded payment errors against the verification store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.cfg.VerifyStoreDriver == "" {
				return fmt.Errorf("VERIFY_STORE_DRIVER is not set")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, env, false)
			if err != nil {
				return err
			}
			defer a.Close()

			stats := service.NewVerifier(a.store, a.verify, a.logger).Run(ctx)
			a.logger.Info("Verification finished", "checked", stats.Checked, "found", stats.Found, "missing", stats.Missing, "failed", stats.Failed)
			return nil
		},
	}
}

// watchCmd follows promotion events until interrupted, reconnecting with backoff
func watchCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [collection]",
		Short: "Log promotion events published by other runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l := env.cfg, env.logger
			if cfg.RabbitMQURL == "" {
				return fmt.Errorf("RABBITMQ_URL is not set")
			}
			collection := ""
			if len(args) == 1 {
				collection = args[0]
			}
			key := broker.BindingKey(collection)

			handle := func(_ context.Context, evt models.PromotionEvent) error {
				l.Info("Promotion event",
					"collection", evt.Collection,
					"key", evt.Key,
					"action", evt.Action,
					"fields", evt.Fields,
					"run_id", evt.RunID,
				)
				return nil
			}

			ctx := cmd.Context()
			backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)
			for {
				sub, err := broker.NewSubscriber(cfg.RabbitMQURL, cfg.Exchange, l)
				if err != nil {
					l.Error("RabbitMQ connection failed, retrying", "attempt", backoff.Attempts()+1, "error", err)
					if _, err := backoff.Wait(ctx); err != nil {
						return nil
					}
					continue
				}

				backoff.Reset()
				err = sub.Listen(ctx, key, handle)
				sub.Close()
				if ctx.Err() != nil {
					return nil
				}
				l.Error("Event subscription lost", "error", err)
			}
		},
	}
}
