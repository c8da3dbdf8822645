// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package optimistic

import (
	"context"

	"github.com/tomtom215/choresync/internal/logging"
)

// Kind classifies a Notification.
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure
)

func (k Kind) String() string {
	if k == KindFailure {
		return "failure"
	}
	return "success"
}

// Notification is a user-visible outcome of a mutation.
type Notification struct {
	Kind       Kind
	Message    string
	Err        error
	MutationID string
}

// Notifier shows notifications to the user. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := logging.Ctx(ctx)
	if n.Kind == KindFailure {
		logger.Warn().Err(n.Err).Msg(n.Message)
		return
	}
	logger.Info().Msg(n.Message)
}
