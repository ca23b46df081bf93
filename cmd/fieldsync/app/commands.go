// Package app provides the command line interface of the fieldsync agent.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacklok/fieldsync/internal/config"
	"github.com/stacklok/fieldsync/internal/records"
	"github.com/stacklok/fieldsync/internal/versions"
)

// NewRootCmd creates a new root command for the agent
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "fieldsync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Offline-first record sync agent",
		Long: `fieldsync pushes attendance and score records captured on a field device to the
central school service whenever connectivity allows, and keeps an audit trail of
every attempt.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Error("Error binding config flag", "error", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newLogCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig reads the file named by --config or FIELDSYNC_CONFIG
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	v.SetEnvPrefix(config.EnvPrefix)
	_ = v.BindEnv("config")

	path := v.GetString("config")
	if path == "" {
		return nil, fmt.Errorf("a configuration file is required: set --config or %s_CONFIG", config.EnvPrefix)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Debug("Loaded configuration", "path", path, "device", cfg.Device.ID)
	return cfg, nil
}

// recordTypeFlag reads the --type flag shared by the sync and log commands. An
// unset flag yields the empty type.
func recordTypeFlag(flags *pflag.FlagSet) (records.Type, error) {
	v, err := flags.GetString("type")
	if err != nil {
		return "", fmt.Errorf("failed to get type flag: %w", err)
	}
	if v == "" {
		return "", nil
	}
	return records.ParseType(v)
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "fieldsync %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
