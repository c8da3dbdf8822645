// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package apiclient

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// envelope covers both {data} and {status, data} response shapes.
type envelope struct {
	Status json.RawMessage `json:"status,omitempty"`
	Data   json.RawMessage `json:"data"`
}

type errorBody struct {
	Message string `json:"message"`
}

// decodeBody unwraps the envelope, when present, and decodes the payload into out.
// Bodies that are not an object with a data field are decoded as-is.
func decodeBody(body []byte, out any) error {
	if out == nil {
		return nil
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	payload := body
	if body[0] == '{' {
		var env envelope
		if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
			payload = env.Data
		}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {message} from an error body.
func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	return eb.Message
}
