// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/observability"
)

// shutdownTimeout bounds the cleanup after the last run.
const shutdownTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check once for an earlier date and reschedule if one is found",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			apt, err := cfg.AppointmentContext(1)
			if err != nil {
				return err
			}

			r, err := newRunner(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer closeRunner(r, logger)

			booked, err := r.Run(ctx, apt)
			if err != nil {
				return fmt.Errorf("run %d failed: %w", apt.RunID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booked=%t\n", booked)
			return nil
		},
	}
	addAppointmentFlags(cmd)
	return cmd
}

// closeRunner releases shared resources even when the command context is
// already cancelled.
func closeRunner(r runner, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		logger.Warn("Shutdown did not complete cleanly.", zap.Error(err))
	}
}
