package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/state"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Autonomous task lifecycle engine",
	Long: `Foreman runs a team of oracle-backed agents through a continuous
plan, execute, review, and self-evaluate cycle.

Tasks move through a strict lifecycle with proof-of-work gating:
no task completes without evidence, and code changes never skip
review. The engine periodically evaluates its own performance and
runs a vote-gated self-improvement pipeline over the results.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(deployCmd)
}

// loadConfig reads configuration from the --config flag path, the
// environment, and defaults.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openDB opens and migrates the state database for the configured data
// directory.
func openDB(cfg *config.Config) (*state.DB, error) {
	db, err := state.Open(state.DBPath(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
