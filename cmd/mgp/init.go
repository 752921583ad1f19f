package main

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"
	"github.com/thalesfsp/mgp"
)

var initOut string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write freshly initialised parameters",
	Long: `Initialise the covariance factors, log noises and log length-scales from
the configured priors and write them as a JSON checkpoint.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOut, "out", "o", "params.json", "Checkpoint file to write")
}

func runInit(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	params, err := mgp.NewParameters(config, rand.NewPCG(config.Seed, 0))
	if err != nil {
		return err
	}

	f, err := os.Create(initOut)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()

	if err := params.Save(f); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote parameters for %d features to %s\n", config.Features, initOut)

	return f.Close()
}
