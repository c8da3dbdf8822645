// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/choresync/internal/credentials"
	"github.com/tomtom215/choresync/internal/events"
	"github.com/tomtom215/choresync/internal/household"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTasks(w io.Writer, asJSON bool, tasks []household.Task) error {
	if asJSON {
		return printJSON(w, tasks)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tPOINTS\tASSIGNEE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Title, t.Status, t.Points, t.AssigneeID)
	}
	return tw.Flush()
}

func printMembers(w io.Writer, asJSON bool, members []household.Member) error {
	if asJSON {
		return printJSON(w, members)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tPOINTS")
	for _, m := range members {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", m.ID, m.Name, m.Role, m.PointsTotal)
	}
	return tw.Flush()
}

func printHousehold(w io.Writer, asJSON bool, h household.Household) error {
	if asJSON {
		return printJSON(w, h)
	}
	_, err := fmt.Fprintf(w, "%s (%s)\n", h.Name, h.ID)
	return err
}

type statusView struct {
	Gateway     string     `json:"gateway"`
	HouseholdID string     `json:"householdId"`
	SavedAt     time.Time  `json:"savedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Expired     bool       `json:"expired"`
}

func printStatus(w io.Writer, asJSON bool, gateway string, cred credentials.Credential, now time.Time) error {
	v := statusView{Gateway: gateway, HouseholdID: cred.HouseholdID, SavedAt: cred.SavedAt}
	if exp, ok := credentials.TokenExpiry(cred.Token); ok {
		v.ExpiresAt = &exp
		v.Expired = exp.Before(now)
	}
	if asJSON {
		return printJSON(w, v)
	}

	fmt.Fprintf(w, "Gateway:   %s\n", v.Gateway)
	fmt.Fprintf(w, "Household: %s\n", v.HouseholdID)
	switch {
	case v.ExpiresAt == nil:
		fmt.Fprintln(w, "Session:   no expiry")
	case v.Expired:
		fmt.Fprintf(w, "Session:   expired %s\n", v.ExpiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(w, "Session:   valid until %s\n", v.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

type eventView struct {
	Event     string             `json:"event"`
	Reconnect bool               `json:"reconnect,omitempty"`
	Error     string             `json:"error,omitempty"`
	Task      *events.TaskUpdate `json:"task,omitempty"`
}

func printEvent(w io.Writer, asJSON bool, e events.Event) {
	v := eventView{Event: e.EventName()}
	switch ev := e.(type) {
	case events.Connected:
		v.Reconnect = ev.Reconnect
	case events.Disconnected:
		if ev.Err != nil {
			v.Error = ev.Err.Error()
		}
	case events.TaskUpdated:
		u := ev.Update
		v.Task = &u
	}

	if asJSON {
		_ = printJSON(w, v)
		return
	}
	switch {
	case v.Task != nil:
		fmt.Fprintf(w, "* task %s is now %s\n", v.Task.ID, v.Task.Status)
		if mu := v.Task.MemberUpdate; mu != nil {
			fmt.Fprintf(w, "* member %s has %d points\n", mu.MemberID, mu.PointsTotal)
		}
	case v.Error != "":
		fmt.Fprintf(w, "* feed lost: %s\n", v.Error)
	case v.Reconnect:
		fmt.Fprintln(w, "* feed reconnected")
	default:
		fmt.Fprintf(w, "* %s\n", v.Event)
	}
}
