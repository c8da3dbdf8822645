// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package credentials

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "member-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "member-1",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	tests := []struct {
		name   string
		token  string
		wantOK bool
	}{
		{"jwt with exp", signed, true},
		{"jwt without exp", noExp, false},
		{"opaque token", "T", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := TokenExpiry(tt.token)
			if ok != tt.wantOK {
				t.Fatalf("TokenExpiry() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(exp) {
				t.Errorf("TokenExpiry() = %v, want %v", got, exp)
			}
		})
	}
}
