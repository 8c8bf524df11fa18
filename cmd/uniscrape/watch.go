package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var watchOnce bool

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run a single price check and exit")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check subscribed wishlists for price drops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), watchOnce, cmd.OutOrStdout())
	},
}

// runWatch either runs one check and writes its report to out, or keeps the
// scheduled watcher running until ctx is cancelled.
func runWatch(ctx context.Context, once bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if !once {
		done, err := a.watcher.Start(ctx, cfg.Watcher.Schedule)
		if err != nil {
			return err
		}
		<-done
		logger.Info("Watcher exited")
		return nil
	}

	report, err := a.watcher.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("watcher run failed: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if failed := report.FailedUsers(); failed > 0 {
		return fmt.Errorf("%d user(s) failed", failed)
	}
	return nil
}
