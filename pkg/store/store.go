// Package store is the durable thread store. Thread metadata and message
// events live in a pebble index; each thread additionally keeps a plain-text
// record file (first line creator, then one line per event) for
// compatibility with the original flat-file layout, rewritten atomically on
// every mutation. Attachment bytes live under the attachments directory as
// "<title>-<filename>".
//
// Every mutating operation takes the per-title lock for its whole
// read-modify-write, so concurrent mutations of one thread are linearized
// while different threads proceed in parallel.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"forumdb/pkg/logger"
)

// Sentinel errors mapped to protocol responses at the dispatcher boundary.
var (
	ErrThreadExists      = errors.New("thread already exists")
	ErrThreadMissing     = errors.New("thread does not exist")
	ErrMessageNotFound   = errors.New("message not found or not owned by author")
	ErrAttachmentExists  = errors.New("file already exists in thread")
	ErrAttachmentMissing = errors.New("file does not exist in thread")
	ErrNotCreator        = errors.New("thread not created by requester")
)

// Store owns all persisted thread state. It is the only writer; callers
// never touch the index or the record files directly.
type Store struct {
	db         *pebble.DB
	dir        string
	recordsDir string
	attachDir  string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (or creates) the store under dir: the pebble index at
// dir/index, record files at dir/threads, attachment bytes at
// dir/attachments.
func Open(dir string) (*Store, error) {
	recordsDir := filepath.Join(dir, "threads")
	attachDir := filepath.Join(dir, "attachments")
	for _, d := range []string{dir, recordsDir, attachDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", d, err)
		}
	}
	logger.Info("opening_store", "dir", dir)
	db, err := pebble.Open(filepath.Join(dir, "index"), &pebble.Options{})
	if err != nil {
		logger.Error("store_open_failed", "dir", dir, "error", err)
		return nil, err
	}
	logger.Info("store_opened", "dir", dir)
	return &Store{
		db:         db,
		dir:        dir,
		recordsDir: recordsDir,
		attachDir:  attachDir,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the underlying index.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("store_closed")
	return nil
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

// titleLock returns the mutex serializing mutations of one thread title.
func (s *Store) titleLock(title string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[title]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[title] = l
	return l
}

func metaKey(title string) []byte {
	return []byte("thread:" + title + ":meta")
}

func eventKey(title string, idx uint64) []byte {
	return []byte(fmt.Sprintf("thread:%s:evt:%012d", title, idx))
}

func eventPrefix(title string) []byte {
	return []byte("thread:" + title + ":evt:")
}
