// Package session owns the admin bearer token. The token is the only
// piece of client state that survives restarts: one value in one file,
// absent by default. The store is the sole writer of that file; every
// outgoing request reads through Token.
package session

import (
	"os"
	"path/filepath"
	"strings"
)

// Store holds the bearer token in memory and mirrors it to disk.
type Store struct {
	path  string
	token string
}

// New creates a store persisting to the given file path. Call Load to
// pick up a token from a previous run.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted token. A missing file means no session and
// is not an error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.token = ""
			return nil
		}
		return err
	}
	s.token = strings.TrimSpace(string(data))
	return nil
}

// Set persists the token and holds it in memory.
func (s *Store) Set(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return err
	}
	s.token = token
	return nil
}

// Clear erases the token from disk and memory. Clearing an absent
// token is a no-op.
func (s *Store) Clear() error {
	s.token = ""
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Token returns the current token, or "" when no session exists.
func (s *Store) Token() string {
	return s.token
}

// Authenticated reports whether a token is present.
func (s *Store) Authenticated() bool {
	return s.token != ""
}
