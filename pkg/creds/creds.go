// Package creds is the credential store: one "username secret" line per
// account in a flat file. The file is read once at startup and rewritten
// whole, under the store's lock, on every account creation.
package creds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"forumdb/pkg/logger"
)

// ErrUserExists is returned by Create when the username is taken.
var ErrUserExists = errors.New("user already exists")

// Store owns the credential file. All access goes through its methods; the
// single mutex serializes account creation against concurrent lookups so a
// rewrite never loses an account.
type Store struct {
	mu    sync.Mutex
	path  string
	users map[string]string
}

// Open loads the credential file at path, creating an empty store when the
// file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, users: make(map[string]string)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("creds_file_missing", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			logger.Warn("creds_malformed_line", "path", path)
			continue
		}
		s.users[parts[0]] = parts[1]
	}
	logger.Info("creds_loaded", "path", path, "accounts", len(s.users))
	return s, nil
}

// Lookup returns the stored secret for a username.
func (s *Store) Lookup(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.users[username]
	return sec, ok
}

// Exists reports whether an account with the username is known.
func (s *Store) Exists(username string) bool {
	_, ok := s.Lookup(username)
	return ok
}

// Verify compares the supplied secret against the stored one.
func (s *Store) Verify(username, secret string) bool {
	sec, ok := s.Lookup(username)
	return ok && sec == secret
}

// Create registers a new account and persists the whole file. The lock is
// held across the membership check and the rewrite so two concurrent
// creations cannot drop each other's line.
func (s *Store) Create(username, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}
	s.users[username] = secret
	if err := s.saveLocked(); err != nil {
		delete(s.users, username)
		logger.Error("creds_save_failed", "user", username, "error", err)
		return err
	}
	logger.Info("account_created", "user", username)
	return nil
}

// saveLocked rewrites the credential file via a temp file and rename so a
// crash mid-write never leaves a truncated file. Caller holds s.mu.
func (s *Store) saveLocked() error {
	names := make([]string, 0, len(s.users))
	for u := range s.users {
		names = append(names, u)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, u := range names {
		fmt.Fprintf(&b, "%s %s\n", u, s.users[u])
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Path returns the credential file location.
func (s *Store) Path() string { return filepath.Clean(s.path) }
