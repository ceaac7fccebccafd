package cmd

import (
	"os"

	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/logger"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "wheelcheck",
	Short: "wheelcheck CLI",
	Long:  `wheelcheck: daily options-wheel checklist API secured by bearer tokens from an external identity provider`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return config.Validate(cfg)
	},
	SilenceUsage: true,
}

func Execute(c *config.Config) {
	cfg = c
	logger.Debug("Starting CLI", "env", cfg.AppEnv)
	if err := rootCmd.Execute(); err != nil {
		logger.Error("CLI error", "error", err)
		os.Exit(1)
	}
}
