// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visa-resched/internal/config"
	"github.com/xkilldash9x/visa-resched/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

var cfgFile string

// flagKeys maps command line flags onto configuration keys. A flag only
// overrides the key when it is actually set.
var flagKeys = map[string]string{
	"limit-date":     "appointment.limit_date",
	"consular-id":    "appointment.consular_id",
	"region":         "appointment.region",
	"group":          "appointment.group",
	"headless":       "browser.headless",
	"screenshot-dir": "browser.screenshot_dir",
	"interval":       "watch.interval",
	"max-runs":       "watch.max_runs",
}

// newRootCmd builds the command tree. Tests build a fresh tree per case.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "visa-resched",
		Short:         "Looks for an earlier visa appointment and reschedules to it.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger)
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting visa-resched", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newCheckDateCmd())
	return cmd
}

// Execute runs the command tree with ctx, which should be cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

// initializeConfig reads the config file (when present) and binds any flags
// the invoked command defines.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	return bindErr
}

// configFromContext returns the configuration stored by the root command.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// addAppointmentFlags registers the overrides shared by run and watch.
func addAppointmentFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("limit-date", "", "latest acceptable appointment date, YYYY-MM-DD (appointment.limit_date)")
	f.String("consular-id", "", "consular facility id (appointment.consular_id)")
	f.String("region", "", "site region code, e.g. co (appointment.region)")
	f.Bool("group", false, "the appointment covers several applicants (appointment.group)")
	f.Bool("headless", true, "run Chrome without a window (browser.headless)")
	f.String("screenshot-dir", "", "save a screenshot here when a run fails (browser.screenshot_dir)")
}
