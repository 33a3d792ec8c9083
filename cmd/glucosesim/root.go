package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"glucose-monitor/internal/config"
	"glucose-monitor/internal/db"
	"glucose-monitor/internal/logging"
	"glucose-monitor/internal/tasks"
)

var (
	configPath string // YAML or TOML config file
	dbPath     string // overrides database.path
	dbDriver   string // overrides database.driver
	logLevel   string // overrides logging.level
	logFormat  string // overrides logging.format
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:          "glucosesim",
	Short:        "Simulated continuous glucose monitoring with SQLite storage",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(tasks.Options{})
		if err != nil {
			return err
		}
		level, format := cfg.Logging.Level, cfg.Logging.Format
		if cmd.Flags().Changed("log") {
			level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			format = logFormat
		}
		_, err = logging.Setup(logrus.StandardLogger(), level, format, nil)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default data/health_data.db)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "driver", "", "Storage backend: orm or sql")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(runCmd, patientCmd, readingsCmd, exportCmd)
}

// loadConfig applies the global flags on top of opts.
func loadConfig(opts tasks.Options) (config.Config, error) {
	opts.ConfigPath = configPath
	opts.DBPath = dbPath
	opts.Driver = dbDriver
	return tasks.LoadConfig(opts)
}

// withStore opens the configured store for the duration of fn.
func withStore(ctx context.Context, fn func(ctx context.Context, store db.Store) error) error {
	cfg, err := loadConfig(tasks.Options{})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	store, err := tasks.OpenStore(ctx, cfg, logrus.StandardLogger())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}
