// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package querycache

import (
	"strings"

	"github.com/goccy/go-json"
)

// Key identifies a cache entry as an ordered list of segments,
// e.g. Key{"tasks"} or Key{"member", "m1"}.
type Key []string

// K builds a Key from segments.
func K(segments ...string) Key { return Key(segments) }

// HasPrefix reports whether prefix matches the leading segments of k.
// The empty Key is a prefix of every Key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, seg := range prefix {
		if k[i] != seg {
			return false
		}
	}
	return true
}

// Equal reports whether k and other have identical segments.
func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

// String renders the key as a JSON array, e.g. ["member","m1"].
func (k Key) String() string {
	if k == nil {
		return "[]"
	}
	b, err := json.Marshal([]string(k))
	if err != nil {
		return "[" + strings.Join(k, ",") + "]"
	}
	return string(b)
}

func (k Key) clone() Key {
	return append(Key(nil), k...)
}
