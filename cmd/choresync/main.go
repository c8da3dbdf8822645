// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

// Package main is the choresync command line client.
//
// It drives the sync core the way the app's screens do: reads go through the
// query cache, task actions are optimistic mutations, and watch keeps the
// push feed open and prints what changes.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 (environment > config file > defaults).
// The most useful settings:
//   - GATEWAY_URL: Backend Gateway base URL (default http://localhost:3000)
//   - CREDENTIALS_DIR: where the encrypted session is kept
//   - PUSH_TRANSPORT: websocket (default) or nats (build with -tags nats)
//
// # Example Usage
//
//	choresync login --household H1 --member p1
//	choresync fetch tasks
//	choresync approve t1
//	choresync watch --metrics-addr :9091
//	choresync logout
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/logging"
)

// Version is set at build time.
var Version = "dev"

type globalFlags struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "choresync",
		Short:         "Household task tracker sync client",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (overrides "+config.ConfigPathEnvVar+")")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(loginCmd(flags))
	rootCmd.AddCommand(logoutCmd(flags))
	rootCmd.AddCommand(statusCmd(flags))
	rootCmd.AddCommand(fetchCmd(flags))
	rootCmd.AddCommand(transitionCmd(flags, "approve", "Approve a completed task"))
	rootCmd.AddCommand(transitionCmd(flags, "complete", "Mark a task as done"))
	rootCmd.AddCommand(transitionCmd(flags, "reject", "Send a completed task back"))
	rootCmd.AddCommand(watchCmd(flags))

	return rootCmd
}

// loadConfig loads configuration and initializes logging.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.configPath != "" {
		if err := os.Setenv(config.ConfigPathEnvVar, flags.configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	return cfg, nil
}
