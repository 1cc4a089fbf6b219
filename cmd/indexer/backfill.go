package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ledgerindexer/internal/backfill"

	"github.com/spf13/cobra"
)

func newBackfillCmd() *cobra.Command {
	var (
		start, end uint64
		mode       string
		resume     bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replay a historical slot range [start, end) through the processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if end <= start {
				return fmt.Errorf("--end must be greater than --start")
			}
			if mode == "" {
				mode = cfg.CheckpointMode
			}
			checkpointMode, err := backfill.ParseCheckpointMode(mode)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.syncer(checkpointMode, resume).SyncRange(ctx, start, end)
			if result != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}

	cmd.Flags().Uint64Var(&start, "start", 0, "first slot (inclusive)")
	cmd.Flags().Uint64Var(&end, "end", 0, "last slot (exclusive)")
	cmd.Flags().StringVar(&mode, "checkpoint-mode", "", "group-end or contiguous (default from BACKFILL_CHECKPOINT_MODE)")
	cmd.Flags().BoolVar(&resume, "resume", true, "resume from the stored checkpoint when inside the range")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}
