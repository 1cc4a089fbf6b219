package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "reconcile [reconcile|burns|marketplace_verify]",
		Short:     "Run one reconciliation job now, under its distributed lock",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{jobReconcile, jobBurns, jobMarketplaceVerify},
		RunE: func(cmd *cobra.Command, args []string) error {
			job := jobReconcile
			if len(args) == 1 {
				job = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			ran, err := a.scheduler(nil).RunOnce(ctx, job)
			if err != nil {
				return err
			}
			if !ran {
				return fmt.Errorf("job %s is already running on another instance", job)
			}
			return nil
		},
	}
}
