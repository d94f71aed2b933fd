package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/config"
	"github.com/hmsportal/hms/pkg/logger"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "hms",
		Short:         "Document control and risk register for HSE management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("HMS_CONFIG"), "path to a YAML or JSON config file")

	rootCmd.AddCommand(serveCmd, migrateCmd, reviewsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the process logger shared by every
// subcommand.
func bootstrap() (*config.Configuration, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.ReplaceGlobals(zapLogger)
	return cfg, zapLogger, nil
}
