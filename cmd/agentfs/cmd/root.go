package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentfs",
	Short: "Copy-on-write filesystem core for concurrent agents",
	Long: "agentfs hosts a copy-on-write namespace with snapshots and branches, " +
		"bound per process, for adapters that expose it to agents.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.config/agentfs/config.yaml)")
}

// loadConfig loads the configuration and installs its logger settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
