// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

// Package main runs the Backend Gateway simulator.
//
// The simulator serves one seeded household over the same REST and push
// interfaces as the real gateway, for local development against
// choresync and for manual testing of reconnect behaviour.
//
// # Configuration
//
// Settings live under the simulator section (environment prefix SIMULATOR_):
//   - SIMULATOR_ADDR: listen address (default :3000)
//   - SIMULATOR_HOUSEHOLD_ID: id of the seeded household (default H1)
//   - SIMULATOR_TOKEN: optional static bearer token accepted as a session
//   - SIMULATOR_SIGNING_KEY: HS256 key for session tokens (random if empty)
//
// # Build Tags
//
//	go build -tags nats ./cmd/gatewaysim   # also publish events to NATS
//
// # Example Usage
//
//	gatewaysim --addr :3000
//	curl -X POST localhost:3000/api/auth/login -d '{"householdId":"H1","memberId":"p1"}'
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/gatewaysim"
	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/supervisor"
	"github.com/tomtom215/choresync/internal/supervisor/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runFlags struct {
	addr        string
	householdID string
	token       string
	natsURL     string
}

func newRootCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:           "gatewaysim",
		Short:         "Simulated household Backend Gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address (overrides SIMULATOR_ADDR)")
	cmd.Flags().StringVar(&flags.householdID, "household", "", "seeded household id (overrides SIMULATOR_HOUSEHOLD_ID)")
	cmd.Flags().StringVar(&flags.token, "token", "", "static bearer token (overrides SIMULATOR_TOKEN)")
	cmd.Flags().StringVar(&flags.natsURL, "nats-url", "", "also publish events to this NATS server (requires -tags nats)")
	return cmd
}

func run(ctx context.Context, flags *runFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flags.addr != "" {
		cfg.Simulator.Addr = flags.addr
	}
	if flags.householdID != "" {
		cfg.Simulator.HouseholdID = flags.householdID
	}
	if flags.token != "" {
		cfg.Simulator.Token = flags.token
	}
	if err := cfg.ValidateSimulator(); err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	var opts []gatewaysim.Option
	if flags.natsURL != "" {
		pub, err := gatewaysim.NewNATSPublisher(flags.natsURL)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		opts = append(opts, gatewaysim.WithPublisher(pub))
	}

	sim, err := gatewaysim.New(cfg.Simulator, gatewaysim.NewStore(cfg.Simulator.HouseholdID), opts...)
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), cfg.Supervisor)
	tree.AddRealtimeService(sim)
	tree.AddAPIService(services.NewHTTPServerService("gateway-sim", sim.NewHTTPServer(), cfg.Supervisor.ShutdownTimeout))

	if token, err := sim.IssueToken("p1"); err == nil {
		logging.Info().Str("member_id", "p1").Str("token", token).Msg("Development session token")
	}
	logging.Info().
		Str("addr", cfg.Simulator.Addr).
		Str("household_id", cfg.Simulator.HouseholdID).
		Bool("nats", flags.natsURL != "").
		Msg("Gateway simulator starting")

	errCh := tree.ServeBackground(ctx)
	err = <-errCh
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}

	logging.Info().Msg("Gateway simulator stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
