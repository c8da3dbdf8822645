// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tomtom215/choresync/internal/client"
	"github.com/tomtom215/choresync/internal/credentials"
	"github.com/tomtom215/choresync/internal/events"
	"github.com/tomtom215/choresync/internal/household"
	"github.com/tomtom215/choresync/internal/logging"
	"github.com/tomtom215/choresync/internal/optimistic"
	"github.com/tomtom215/choresync/internal/supervisor/services"
)

// withClient runs fn with a client built from configuration. Services are
// started only when start is true.
func withClient(ctx context.Context, flags *globalFlags, start bool, fn func(*client.Client) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	notifier := optimistic.NotifierFunc(func(_ context.Context, n optimistic.Notification) {
		switch n.Kind {
		case optimistic.KindSuccess:
			fmt.Fprintln(os.Stdout, n.Message)
		case optimistic.KindFailure:
			fmt.Fprintln(os.Stderr, "error:", n.Message)
		}
	})

	c, err := client.New(cfg, client.WithNotifier(notifier))
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Dispose(); err != nil {
			logging.Error().Err(err).Msg("Failed to stop client")
		}
	}()

	if start {
		if err := c.Init(ctx); err != nil {
			return err
		}
	}
	return fn(c)
}

func loginCmd(flags *globalFlags) *cobra.Command {
	var householdID, memberID, token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a household",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), flags, false, func(c *client.Client) error {
				var err error
				if token != "" {
					err = c.SignIn(cmd.Context(), token, householdID)
				} else {
					err = c.Login(cmd.Context(), householdID, memberID)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in to household %s\n", householdID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&householdID, "household", "", "household id")
	cmd.Flags().StringVar(&memberID, "member", "", "member id to sign in as")
	cmd.Flags().StringVar(&token, "token", "", "use an existing session token instead of signing in")
	_ = cmd.MarkFlagRequired("household")
	cmd.MarkFlagsOneRequired("member", "token")
	cmd.MarkFlagsMutuallyExclusive("member", "token")

	return cmd
}

func logoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), flags, false, func(c *client.Client) error {
				if err := c.Logout(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), flags, false, func(c *client.Client) error {
				cred, err := c.Credentials().Credential(cmd.Context())
				if errors.Is(err, credentials.ErrNoSession) {
					fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
					return nil
				}
				if err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), flags.jsonOutput, c.API().BaseURL(), cred, time.Now())
			})
		},
	}
}

func fetchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "fetch {tasks|members|household|member <id>}",
		Short:     "Fetch household data",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"tasks", "members", "household", "member"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, false, func(c *client.Client) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()
				repo := c.Household()

				switch args[0] {
				case "tasks":
					tasks, err := repo.Tasks(ctx)
					if err != nil {
						return err
					}
					return printTasks(out, flags.jsonOutput, tasks)
				case "members":
					members, err := repo.Members(ctx)
					if err != nil {
						return err
					}
					return printMembers(out, flags.jsonOutput, members)
				case "member":
					if len(args) != 2 {
						return fmt.Errorf("fetch member requires a member id")
					}
					m, err := repo.Member(ctx, args[1])
					if err != nil {
						return err
					}
					return printMembers(out, flags.jsonOutput, []household.Member{m})
				case "household":
					id, err := c.Credentials().HouseholdID(ctx)
					if err != nil {
						return err
					}
					if id == "" {
						return credentials.ErrNoSession
					}
					h, err := repo.Household(ctx, id)
					if err != nil {
						return err
					}
					return printHousehold(out, flags.jsonOutput, h)
				default:
					return fmt.Errorf("unknown resource %q", args[0])
				}
			})
		},
	}
}

func transitionCmd(flags *globalFlags, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, false, func(c *client.Client) error {
				ctx := cmd.Context()
				repo := c.Household()

				// load the list so the change is applied optimistically
				if _, err := repo.Tasks(ctx); err != nil {
					return err
				}

				var (
					task household.Task
					err  error
				)
				switch action {
				case "approve":
					task, err = repo.ApproveTask(ctx, args[0])
				case "complete":
					task, err = repo.CompleteTask(ctx, args[0])
				case "reject":
					task, err = repo.RejectTask(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printTasks(cmd.OutOrStdout(), flags.jsonOutput, []household.Task{task})
			})
		},
	}
}

func watchCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the push feed open and print task changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd.Context(), flags, true, func(c *client.Client) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()

				if metricsAddr != "" {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
					c.AddService(services.NewHTTPServerService("metrics", srv, 5*time.Second))
				}

				// the bus delivers on the listener goroutine; hand events off
				// so refetching never holds up the feed
				evCh := make(chan events.Event, 64)
				sub := c.Events().SubscribeAll(func(e events.Event) {
					select {
					case evCh <- e:
					default:
						logging.Warn().Str("event", e.EventName()).Msg("Watch output behind, dropping event")
					}
				})
				defer sub.Release()

				showTasks := func() {
					tasks, err := c.Household().Tasks(ctx)
					if err != nil {
						logging.Warn().Err(err).Msg("Task fetch failed")
						return
					}
					_ = printTasks(out, flags.jsonOutput, tasks)
				}
				showTasks()

				for {
					select {
					case <-ctx.Done():
						return nil
					case e := <-evCh:
						printEvent(out, flags.jsonOutput, e)
						switch e.(type) {
						case events.TaskUpdated, events.Connected:
							showTasks()
						}
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
