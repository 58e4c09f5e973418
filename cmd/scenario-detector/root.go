package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"jordanella.com/scenario-detector/internal/config"
	"jordanella.com/scenario-detector/internal/logging"
)

var (
	configPath string
	logLevel   string

	// Loaded by the root command before any subcommand runs
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "scenario-detector",
		Short: "Run screen detection scenarios against a device",
		Long: `scenario-detector watches a device screen, evaluates the events of a scenario
on every frame and performs their actions (clicks, swipes, counters, intents).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				loaded.Logging.Level = logLevel
			}
			cfg = loaded

			// Logs go to stderr, command output to stdout
			logging.Initialize(cfg.Logging, zapcore.Lock(os.Stderr))
			logging.Root().Debug("Command started",
				zap.String("command", cmd.Name()),
				zap.String("config", configPath))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "settings.ini", "Settings file (defaults are used when it does not exist)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(reportsCmd)
}

// loadConfig reads path, falling back to defaults when the file does not exist
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.NewDefaultConfig(), nil
	}
	loaded, err := config.LoadFromINI(path)
	if err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return loaded, nil
}
