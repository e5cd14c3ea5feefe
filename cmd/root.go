package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"drainvoice/internal/config"
	"drainvoice/internal/logger"
)

var version = "1.0.0"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "drainvoice",
	Short: "Offline-first invoice service",
	Long: `drainvoice stores invoices locally, queues every change made while the
remote database is unreachable and replays the queue once connectivity
returns.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logger.Setup(loaded.GetLoggerConfig()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "drainvoice.toml", "path to the TOML config file")
	rootCmd.AddCommand(serveCmd, syncCmd, pendingCmd, backupCmd)
}
