// File: cmd/watch.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/config"
	"github.com/xkilldash9x/visa-resched/internal/observability"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Repeat the check on an interval until an appointment is booked",
		Long: `Runs the reschedule check every watch.interval. Runs never overlap: a
run that outlasts the interval delays the next one. Stops on SIGINT/SIGTERM,
after watch.max_runs runs, or after the first booking when
watch.stop_on_success is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			// Fail before launching anything when the appointment is incomplete.
			if _, err := cfg.AppointmentContext(1); err != nil {
				return err
			}

			r, err := newRunner(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer closeRunner(r, logger)

			return watch(ctx, r, cfg, logger, cmd.OutOrStdout())
		},
	}
	addAppointmentFlags(cmd)
	cmd.Flags().Duration("interval", 0, "time between run starts (watch.interval)")
	cmd.Flags().Int("max-runs", 0, "stop after this many runs, 0 for no limit (watch.max_runs)")
	return cmd
}

// watch performs sequential runs. Run ids count up from 1. A failed run is
// logged and the loop goes on; only cancellation ends it with no booking.
func watch(ctx context.Context, r runner, cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	ticker := time.NewTicker(cfg.Watch.Interval)
	defer ticker.Stop()

	for runID := uint64(1); ; runID++ {
		apt, err := cfg.AppointmentContext(runID)
		if err != nil {
			return err
		}

		booked, err := r.Run(ctx, apt)
		switch {
		case ctx.Err() != nil:
			logger.Info("Watch stopped.", zap.Uint64("last_run_id", runID))
			return nil
		case err != nil:
			logger.Error("Run failed; will retry on the next tick.", zap.Uint64("run_id", runID), zap.Error(err))
		default:
			fmt.Fprintf(out, "run=%d booked=%t\n", runID, booked)
			if booked && cfg.Watch.StopOnSuccess {
				logger.Info("Appointment booked; stopping.", zap.Uint64("run_id", runID))
				return nil
			}
		}

		if cfg.Watch.MaxRuns > 0 && runID >= uint64(cfg.Watch.MaxRuns) {
			logger.Info("Reached the configured number of runs.", zap.Int("max_runs", cfg.Watch.MaxRuns))
			return nil
		}

		select {
		case <-ctx.Done():
			logger.Info("Watch stopped.", zap.Uint64("last_run_id", runID))
			return nil
		case <-ticker.C:
		}
	}
}
