// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package apiclient

import (
	"errors"
	"fmt"
)

// GenericFailureMessage is shown when the gateway gave no usable message.
const GenericFailureMessage = "Something went wrong. Please try again."

// ErrCircuitOpen is wrapped by TransportError when the circuit breaker
// rejects a request without sending it.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ServerError means the gateway responded with an error status.
type ServerError struct {
	Method  string
	Path    string
	Status  int
	Message string // from the {message} body, may be empty
	Body    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// TransportError means no response was received: network failure, timeout,
// cancellation or an open circuit.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: no response: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode returns the HTTP status of a ServerError in err's chain, or 0.
func StatusCode(err error) int {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// UserMessage returns the text to show the user for err: the gateway's
// message when it sent one, otherwise GenericFailureMessage.
func UserMessage(err error) string {
	var se *ServerError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return GenericFailureMessage
}
