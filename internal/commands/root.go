// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands defines the localcursor command-line interface.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iceessence/localcursor/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	flagConfig    string
	flagHost      string
	flagPort      int
	flagWorkspace string
	flagDataDir   string
)

var rootCmd = &cobra.Command{
	Use:   "localcursor",
	Short: "Local gateway for streaming chat against Ollama and LM Studio",
	Long: `localcursor is a local HTTP gateway that streams chat completions from
Ollama or any OpenAI-compatible server (such as LM Studio) and exposes a
sandboxed workspace for file operations.`,
	// Running without a subcommand starts the server.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (TOML or JSON)")
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "", "listen address (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "workspace directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory for settings and history (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the effective configuration from file, environment,
// and command-line flags, in increasing precedence.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if flagConfig != "" {
		cfg, err = config.LoadFromPath(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if flagHost != "" {
		cfg.Server.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagWorkspace != "" {
		cfg.Workspace.Root = flagWorkspace
	}
	if flagDataDir != "" {
		cfg.Storage.DataDir = flagDataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Execute runs the CLI. It is the program entry point after main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
