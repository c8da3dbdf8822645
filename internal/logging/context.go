// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	mutationIDKey    contextKey = "mutation_id"
)

// GenerateCorrelationID returns the first 8 characters of a new UUID.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// ContextWithCorrelationID returns a context carrying the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID returns a context with a freshly generated correlation ID.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the correlation ID or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithMutationID tags ctx with the ID of an optimistic mutation so the
// HTTP calls it makes can be correlated with its commit or rollback.
func ContextWithMutationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, mutationIDKey, id)
}

// MutationIDFromContext returns the mutation ID or "".
func MutationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(mutationIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with the context's correlation and mutation IDs attached.
//
//	logging.Ctx(ctx).Info().Msg("fetching household")
func Ctx(ctx context.Context) *zerolog.Logger {
	logCtx := Logger().With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	if id := MutationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("mutation_id", id)
	}
	l := logCtx.Logger()
	return &l
}
