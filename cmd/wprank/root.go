package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wprank/backend/internal/metrics"
	"github.com/wprank/backend/pkg/config"
	"github.com/wprank/backend/pkg/logger"
)

var (
	cfgFile string
	debug   bool

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:           "wprank",
		Short:         "Crawl WordPress sites and rank them by efficiency",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initRuntime()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// A missing .env is normal; real environment variables still apply.
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml, ./config/config.yaml or /etc/wprank/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(workerCommand())
	rootCmd.AddCommand(rankCommand())
	rootCmd.AddCommand(cleanupCommand())
	rootCmd.AddCommand(submitCommand())
}

func initRuntime() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded

	logCfg := cfg.Logging
	if debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	metrics.Init()
	return nil
}
