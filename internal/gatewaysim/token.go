// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package gatewaysim

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for a missing, malformed or expired token.
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the claims of a simulator session token.
type Claims struct {
	HouseholdID string `json:"household"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and checks HS256 session tokens.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// newTokenIssuer uses key as the HMAC secret. An empty key gets a random
// per-process secret, so tokens do not survive a restart.
func newTokenIssuer(key string, ttl time.Duration) (*tokenIssuer, error) {
	secret := []byte(key)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &tokenIssuer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for member in householdID.
func (ti *tokenIssuer) Issue(householdID, memberID string) (string, error) {
	now := ti.now()
	claims := &Claims{
		HouseholdID: householdID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate checks the signature and expiry of token and returns its claims.
func (ti *tokenIssuer) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithTimeFunc(ti.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.HouseholdID == "" {
		return nil, fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}
	return claims, nil
}
