// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

// Package credentials persists the signed-in session: the bearer token and the
// household it belongs to.
//
// The session is stored as ONE badger record so that the token and the
// household id are always written and cleared together. The record is
// encrypted at rest with an age X25519 identity. Reads are served from an
// in-memory mirror that is updated in the same critical section as every
// write, so the HTTP client always sees what storage holds.
//
// Thread Safety: all Store methods are safe for concurrent use.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/logging"
)

// sessionKey is the badger key of the single session record.
const sessionKey = "session"

// ErrNoSession is returned when no session has been saved.
var ErrNoSession = errors.New("no session")

// Credential is the persisted session.
type Credential struct {
	Token       string    `json:"token" validate:"required"`
	HouseholdID string    `json:"householdId" validate:"required"`
	SavedAt     time.Time `json:"savedAt"`
}

// Store is the encrypted, badger-backed session store.
type Store struct {
	db       *badger.DB
	identity *age.X25519Identity
	validate *validator.Validate

	mu      sync.RWMutex
	current *Credential
}

// Open opens (or creates) the session store described by cfg and loads any
// existing session into memory. An empty cfg.Dir or cfg.InMemory keeps the
// database in memory, which loses the session on exit.
func Open(cfg config.CredentialsConfig) (*Store, error) {
	inMemory := cfg.InMemory || cfg.Dir == ""

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create credentials dir: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Join(cfg.Dir, "session.db"))
	}
	opts = opts.WithLogger(newBadgerLogger())

	identity, err := loadIdentity(cfg, inMemory)
	if err != nil {
		return nil, err
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	s := &Store{
		db:       db,
		identity: identity,
		validate: validator.New(),
	}

	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close session database: %w", err)
	}
	return nil
}

// load reads the persisted record into the in-memory mirror. A record that
// cannot be decrypted (for example after the identity was rotated) is
// discarded and the store starts signed out.
func (s *Store) load() error {
	var sealed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		sealed, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if sealed == nil {
		return nil
	}

	cred, err := s.unseal(sealed)
	if err != nil {
		logging.Warn().Err(err).Msg("Discarding unreadable stored session")
		if delErr := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(sessionKey))
		}); delErr != nil {
			return fmt.Errorf("discard session: %w", delErr)
		}
		return nil
	}

	s.current = cred
	if exp, ok := TokenExpiry(cred.Token); ok && time.Now().After(exp) {
		logging.Warn().
			Str("household_id", cred.HouseholdID).
			Time("expired_at", exp).
			Msg("Stored session token has expired")
	}
	return nil
}

// SaveSession persists token and householdID as one record.
func (s *Store) SaveSession(ctx context.Context, token, householdID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cred := &Credential{
		Token:       token,
		HouseholdID: householdID,
		SavedAt:     time.Now().UTC(),
	}
	if err := s.validate.Struct(cred); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	sealed, err := s.seal(cred)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKey), sealed)
	}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.current = cred

	logging.Info().Str("household_id", householdID).Msg("Session saved")
	return nil
}

// ClearSession removes the session. Clearing an empty store is not an error.
func (s *Store) ClearSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionKey))
	}); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.current = nil

	logging.Info().Msg("Session cleared")
	return nil
}

// Credential returns a copy of the current session or ErrNoSession.
func (s *Store) Credential(ctx context.Context) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Credential{}, ErrNoSession
	}
	return *s.current, nil
}

// Token returns the bearer token, or "" when signed out.
func (s *Store) Token(ctx context.Context) (string, error) {
	cred, err := s.Credential(ctx)
	if errors.Is(err, ErrNoSession) {
		return "", nil
	}
	return cred.Token, err
}

// HouseholdID returns the household id, or "" when signed out.
func (s *Store) HouseholdID(ctx context.Context) (string, error) {
	cred, err := s.Credential(ctx)
	if errors.Is(err, ErrNoSession) {
		return "", nil
	}
	return cred.HouseholdID, err
}

// Recipient returns the public key sessions are encrypted to.
func (s *Store) Recipient() string {
	return s.identity.Recipient().String()
}

func (s *Store) seal(cred *Credential) ([]byte, error) {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	sealed, err := encrypt(s.identity.Recipient(), plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt session: %w", err)
	}
	return sealed, nil
}

func (s *Store) unseal(sealed []byte) (*Credential, error) {
	plaintext, err := decrypt(s.identity, sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt session: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if err := s.validate.Struct(&cred); err != nil {
		return nil, fmt.Errorf("invalid stored session: %w", err)
	}
	return &cred, nil
}
