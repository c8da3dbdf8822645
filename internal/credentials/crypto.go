// Choresync - Household Task Tracker Sync Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/choresync

package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/tomtom215/choresync/internal/config"
	"github.com/tomtom215/choresync/internal/logging"
)

// identityFileName is the default identity location inside the credentials dir.
const identityFileName = "identity.age"

// loadIdentity resolves the age identity used to seal the session.
//
// Order: explicit cfg.Identity, then the identity file (cfg.IdentityFile or
// <dir>/identity.age), generating and persisting a new one when the file does
// not exist. In-memory stores without an explicit identity get an ephemeral one.
func loadIdentity(cfg config.CredentialsConfig, inMemory bool) (*age.X25519Identity, error) {
	if cfg.Identity != "" {
		id, err := age.ParseX25519Identity(strings.TrimSpace(cfg.Identity))
		if err != nil {
			return nil, fmt.Errorf("parse configured identity: %w", err)
		}
		return id, nil
	}

	path := cfg.IdentityFile
	if path == "" {
		if inMemory {
			id, err := age.GenerateX25519Identity()
			if err != nil {
				return nil, fmt.Errorf("generate identity: %w", err)
			}
			return id, nil
		}
		path = filepath.Join(cfg.Dir, identityFileName)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	switch {
	case err == nil:
		return parseIdentityFile(data)
	case errors.Is(err, os.ErrNotExist):
		return createIdentityFile(path)
	default:
		return nil, fmt.Errorf("read identity file: %w", err)
	}
}

func parseIdentityFile(data []byte) (*age.X25519Identity, error) {
	ids, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, errors.New("identity file contains no X25519 identity")
}

func createIdentityFile(path string) (*age.X25519Identity, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}

	content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		time.Now().UTC().Format(time.RFC3339), id.Recipient(), id)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return nil, fmt.Errorf("write identity file: %w", err)
	}

	logging.Info().Str("path", path).Msg("Generated session encryption identity")
	return id, nil
}

func encrypt(recipient age.Recipient, plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decrypt(identity age.Identity, ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
