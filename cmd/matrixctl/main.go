// Package main is the operator CLI: schema migrations, tier catalog checks,
// withdrawal previews and payout runs against the configured storage.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"matrix-comp/internal/config"
	"matrix-comp/internal/observability"
)

var (
	configPath string
	verbose    bool
)

// rootCmd is the base command for the operator CLI
var rootCmd = &cobra.Command{
	Use:           "matrixctl",
	Short:         "Operate the matrix compensation service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("MATRIX_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
}

// loadConfig reads the config named by --config and builds the CLI logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if !verbose {
		return cfg, zerolog.Nop(), nil
	}
	return cfg, observability.NewLogger(cfg.Log.Level, true), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
