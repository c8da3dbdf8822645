// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

// Package events defines the typed push events and an in-process bus for them.
//
// Subscribers register for one concrete event type and receive a
// Subscription that must be released when they go away:
//
//	sub := events.Subscribe(bus, func(e events.TaskUpdated) {
//	    logging.Info().Str("task_id", e.Update.ID).Msg("task changed")
//	})
//	defer sub.Release()
//
// Publish delivers synchronously and in subscription order, so handlers
// observe events in the order they arrived on the connection.
package events

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Event names on the wire.
const (
	NameConnect     = "connect"
	NameDisconnect  = "disconnect"
	NameTaskUpdated = "taskUpdated"
)

// Event is implemented by every event type.
type Event interface {
	EventName() string
}

// Connected is published when the push connection is established.
// Reconnect is true when a connection existed before.
type Connected struct {
	Reconnect bool
}

// Disconnected is published when an established connection is lost or closed.
type Disconnected struct {
	Err error // nil for an explicit close
}

// TaskUpdated is published for every task-update event.
type TaskUpdated struct {
	Update TaskUpdate
}

func (Connected) EventName() string    { return NameConnect }
func (Disconnected) EventName() string { return NameDisconnect }
func (TaskUpdated) EventName() string  { return NameTaskUpdated }

// MemberUpdate is the optional points update carried by a task event.
type MemberUpdate struct {
	MemberID    string `json:"memberId" validate:"required"`
	PointsTotal int    `json:"pointsTotal" validate:"gte=0"`
}

// TaskUpdate is the payload of a taskUpdated event. Task fields other than
// id and status are kept raw in Fields.
type TaskUpdate struct {
	ID           string                     `json:"id,omitempty"`
	Status       string                     `json:"status,omitempty"`
	MemberUpdate *MemberUpdate              `json:"memberUpdate,omitempty"`
	Fields       map[string]json.RawMessage `json:"-"`
}

var validate = validator.New()

// ParseTaskUpdate decodes and validates a taskUpdated payload.
//
// A memberUpdate that is malformed or fails validation is dropped and
// reported through memberErr; the rest of the update is still usable, since
// task invalidation does not depend on it.
func ParseTaskUpdate(data []byte) (update TaskUpdate, memberErr error, err error) {
	var fields map[string]json.RawMessage
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &fields); err != nil {
			return TaskUpdate{}, nil, fmt.Errorf("decode task update: %w", err)
		}
	}

	update.Fields = make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		switch k {
		case "id":
			if err := json.Unmarshal(v, &update.ID); err != nil {
				return TaskUpdate{}, nil, fmt.Errorf("decode task id: %w", err)
			}
		case "status":
			if err := json.Unmarshal(v, &update.Status); err != nil {
				return TaskUpdate{}, nil, fmt.Errorf("decode task status: %w", err)
			}
		case "memberUpdate":
			if string(v) == "null" {
				continue
			}
			var mu MemberUpdate
			if err := json.Unmarshal(v, &mu); err != nil {
				memberErr = fmt.Errorf("decode memberUpdate: %w", err)
				continue
			}
			if err := validate.Struct(&mu); err != nil {
				memberErr = fmt.Errorf("invalid memberUpdate: %w", err)
				continue
			}
			update.MemberUpdate = &mu
		default:
			update.Fields[k] = v
		}
	}
	return update, memberErr, nil
}
