// Package main is the entry point for the taskgate binary.
// It serves the CRUD gateway and manages the stored backend session.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/polisai/taskgate/pkg/config"
	"github.com/polisai/taskgate/pkg/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for taskgate
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taskgate",
		Short: "Authenticated CRUD gateway for the task tracker backend",
		Long: `taskgate forwards CRUD requests for projects, tasks and users to the backend
with the stored bearer token, refreshes the session once on 401, and returns
backend errors in a uniform JSON shape.

Example:
  taskgate login --email me@example.com --password-stdin
  taskgate serve --config taskgate.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json, text)")
	rootCmd.PersistentFlags().String("backend-url", "", "Backend base URL")

	rootCmd.AddCommand(
		newServeCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newTokenCmd(),
		newRoutesCmd(),
	)
	return rootCmd
}

// CLIConfig holds the parsed persistent flags
type CLIConfig struct {
	Config     string
	LogLevel   string
	LogFormat  string
	BackendURL string
}

// parseCLIConfig reads the persistent flags shared by every subcommand
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	logFormat, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-format flag: %w", err)
	}
	backendURL, err := cmd.Flags().GetString("backend-url")
	if err != nil {
		return nil, fmt.Errorf("failed to get backend-url flag: %w", err)
	}
	return &CLIConfig{
		Config:     configPath,
		LogLevel:   logLevel,
		LogFormat:  logFormat,
		BackendURL: backendURL,
	}, nil
}

// cliOverrides returns a config override that lets flags win over file and
// environment values.
func cliOverrides(cli *CLIConfig) func(*config.Config) {
	return func(cfg *config.Config) {
		if cli.LogLevel != "" {
			cfg.Logging.Level = cli.LogLevel
		}
		if cli.LogFormat != "" {
			cfg.Logging.Format = cli.LogFormat
		}
		if cli.BackendURL != "" {
			cfg.Backend.BaseURL = cli.BackendURL
		}
	}
}

// loadRuntime loads configuration, applies flag overrides and installs the logger.
func loadRuntime(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(cli.Config, cliOverrides(cli))
	if err != nil {
		return nil, nil, err
	}

	logCfg := cfg.Logging
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.NewLogger(logCfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
