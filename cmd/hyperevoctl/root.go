package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel     string
	configPath   string
	storeKind    string
	dbPath       string
	artifactsDir string
	logger       *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hyperevoctl",
	Short: "Evolutionary optimization runs and hyperparameter search",
	Long: `hyperevoctl runs population-based optimizers against benchmark and
environment problems, and wraps whole optimization workflows as
hyperparameter-search problems over their own tunable parameters.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		slog.SetDefault(logger)

		return applyFileConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "Storage backend: memory or sqlite")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&artifactsDir, "artifacts", "", "Directory for run artifacts")
}
