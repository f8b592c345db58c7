// File: cmd/check_date.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/visa-resched/internal/appointment"
)

func newCheckDateCmd() *cobra.Command {
	var limit, current string
	cmd := &cobra.Command{
		Use:   "check-date",
		Short: "Print the effective threshold for a limit date and a held appointment",
		Example: `  visa-resched check-date --limit 2025-12-01 --current "15 March, 2026"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit == "" {
				cfg, err := configFromContext(cmd.Context())
				if err != nil {
					return err
				}
				limit = cfg.Appointment.LimitDate
			}
			limitDate, err := appointment.ParseISODate(limit)
			if err != nil {
				return fmt.Errorf("--limit: %w", err)
			}
			held, err := appointment.ParseCurrentAppointment(current)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current=%s threshold=%s\n", held, appointment.EffectiveThreshold(limitDate, held))
			return nil
		},
	}
	cmd.Flags().StringVar(&limit, "limit", "", "limit date, YYYY-MM-DD (default appointment.limit_date)")
	cmd.Flags().StringVar(&current, "current", "", `held appointment text, e.g. "15 March, 2026"`)
	_ = cmd.MarkFlagRequired("current")
	return cmd
}
