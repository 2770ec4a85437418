package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hashstrat/dao-deployer/internal/config"
)

var (
	cfgFile string
	jsonOut bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dao-deployer",
	Short: "Deploy the HashStrat DAO contracts",
	Long: `Deploy the HashStrat DAO token, farm and governance contracts and register
the pool LP tokens in the farm.

Configuration is read from config.yaml (or --config) and HASHSTRAT_*
environment variables. network.name selects a preset (hardhat, localhost,
kovan, polygon) whose RPC URL, chain ID and gas price apply unless set.

Examples:
  # Preview the deployment against a local node
  dao-deployer deploy --dry-run

  # Deploy to Polygon with a keystore
  HASHSTRAT_NETWORK_NAME=polygon \
  HASHSTRAT_SIGNER_KEYSTORE_PATH=./deployer.json \
  dao-deployer deploy

  # Continue a failed run
  dao-deployer deploy --resume 6f1c...`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		logger = newLogger(c.Log)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print results as JSON")
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
