package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/thalesfsp/mgp"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "mgp",
	Short: "Multi-task Gaussian Process imputation",
	Long: `mgp imputes sparse, irregularly sampled clinical time series onto a
regular grid by sampling a multi-task Gaussian Process posterior.

Examples:
  mgp init --config mgp.yaml --out params.json
  mgp impute --config mgp.yaml --params params.json --patients batch.json`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (defaults are used when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log jitter escalations and batch timings")

	rootCmd.AddCommand(initCmd, imputeCmd)
}

// loadConfig reads the configuration named by --config and attaches a stderr
// logger.
func loadConfig() (mgp.Config, error) {
	config := mgp.DefaultConfig()

	if configPath != "" {
		loaded, err := mgp.LoadConfig(configPath)
		if err != nil {
			return mgp.Config{}, err
		}

		config = loaded
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	config.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return config, nil
}
