package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"

	"forumdb/pkg/logger"
	"forumdb/pkg/models"
)

// getMeta loads the thread metadata for title. Returns ErrThreadMissing
// when the thread was never created (or was removed).
func (s *Store) getMeta(title string) (*models.Thread, error) {
	v, closer, err := s.db.Get(metaKey(title))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrThreadMissing
		}
		return nil, err
	}
	defer closer.Close()
	var th models.Thread
	if err := json.Unmarshal(v, &th); err != nil {
		return nil, fmt.Errorf("invalid thread metadata for %q: %w", title, err)
	}
	return &th, nil
}

// putMeta persists thread metadata.
func (s *Store) putMeta(th *models.Thread) error {
	b, err := json.Marshal(th)
	if err != nil {
		return err
	}
	return s.db.Set(metaKey(th.Title), b, pebble.Sync)
}

// putEvent appends one event under the thread's next event index. The
// caller holds the title lock and has already bumped th.LastEvent.
func (s *Store) putEvent(title string, idx uint64, m models.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Set(eventKey(title, idx), b, pebble.Sync)
}

// events returns all events of a thread in creation order.
func (s *Store) events(title string) ([]models.Message, error) {
	prefix := eventPrefix(title)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid event %q: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// Create makes an empty thread owned by creator. A second Create with the
// same title never touches the existing thread.
func (s *Store) Create(title, creator string) error {
	l := s.titleLock(title)
	l.Lock()
	defer l.Unlock()

	if _, err := s.getMeta(title); err == nil {
		return ErrThreadExists
	} else if err != ErrThreadMissing {
		return err
	}
	now := time.Now().UTC().UnixNano()
	th := &models.Thread{Title: title, Creator: creator, CreatedTS: now, UpdatedTS: now}
	if err := s.putMeta(th); err != nil {
		logger.Error("thread_create_failed", "thread", title, "error", err)
		return err
	}
	if err := s.rewriteRecord(th, nil); err != nil {
		logger.Error("thread_record_write_failed", "thread", title, "error", err)
		return err
	}
	logger.Info("thread_created", "thread", title, "creator", creator)
	return nil
}

// AppendMessage posts a message and returns its sequence number. Numbers
// come from the thread's own monotonic counter, never from the visible
// message count, so a deleted message's number is never handed out again.
func (s *Store) AppendMessage(title, author, body string) (uint64, error) {
	l := s.titleLock(title)
	l.Lock()
	defer l.Unlock()

	th, err := s.getMeta(title)
	if err != nil {
		return 0, err
	}
	th.LastSeq++
	th.LastEvent++
	th.UpdatedTS = time.Now().UTC().UnixNano()
	m := models.Message{
		Thread: title,
		Seq:    th.LastSeq,
		Author: author,
		TS:     th.UpdatedTS,
		Body:   body,
	}
	if err := s.putEvent(title, th.LastEvent, m); err != nil {
		logger.Error("message_append_failed", "thread", title, "error", err)
		return 0, err
	}
	if err := s.putMeta(th); err != nil {
		return 0, err
	}
	if err := s.rewriteRecordFromDB(th); err != nil {
		return 0, err
	}
	logger.Info("message_posted", "thread", title, "seq", m.Seq, "author", author)
	return m.Seq, nil
}

// findMessage locates the event index of the message with seq, skipping
// attachment events. Caller holds the title lock.
func (s *Store) findMessage(title string, seq uint64) (uint64, *models.Message, error) {
	prefix := eventPrefix(title)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, nil, err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return 0, nil, fmt.Errorf("invalid event %q: %w", iter.Key(), err)
		}
		if m.IsAttachment() || m.Seq != seq {
			continue
		}
		var idx uint64
		key := string(iter.Key())
		if _, err := fmt.Sscanf(key[len(prefix):], "%d", &idx); err != nil {
			return 0, nil, fmt.Errorf("invalid event key %q: %w", key, err)
		}
		return idx, &m, iter.Error()
	}
	if err := iter.Error(); err != nil {
		return 0, nil, err
	}
	return 0, nil, ErrMessageNotFound
}

// Tombstone marks message seq deleted. Only the original author may delete
// it; the sequence number stays occupied forever.
func (s *Store) Tombstone(title string, seq uint64, author string) error {
	l := s.titleLock(title)
	l.Lock()
	defer l.Unlock()

	th, err := s.getMeta(title)
	if err != nil {
		return err
	}
	idx, m, err := s.findMessage(title, seq)
	if err != nil {
		return err
	}
	if m.Author != author || m.Deleted {
		return ErrMessageNotFound
	}
	m.Deleted = true
	m.Body = ""
	if err := s.putEvent(title, idx, *m); err != nil {
		logger.Error("message_tombstone_failed", "thread", title, "seq", seq, "error", err)
		return err
	}
	th.UpdatedTS = time.Now().UTC().UnixNano()
	if err := s.putMeta(th); err != nil {
		return err
	}
	if err := s.rewriteRecordFromDB(th); err != nil {
		return err
	}
	logger.Info("message_deleted", "thread", title, "seq", seq, "author", author)
	return nil
}

// Edit replaces the body of message seq, keeping its number and author.
// Only the original author may edit, and tombstoned messages stay gone.
func (s *Store) Edit(title string, seq uint64, author, body string) error {
	l := s.titleLock(title)
	l.Lock()
	defer l.Unlock()

	th, err := s.getMeta(title)
	if err != nil {
		return err
	}
	idx, m, err := s.findMessage(title, seq)
	if err != nil {
		return err
	}
	if m.Author != author || m.Deleted {
		return ErrMessageNotFound
	}
	m.Body = body
	if err := s.putEvent(title, idx, *m); err != nil {
		logger.Error("message_edit_failed", "thread", title, "seq", seq, "error", err)
		return err
	}
	th.UpdatedTS = time.Now().UTC().UnixNano()
	if err := s.putMeta(th); err != nil {
		return err
	}
	if err := s.rewriteRecordFromDB(th); err != nil {
		return err
	}
	logger.Info("message_edited", "thread", title, "seq", seq, "author", author)
	return nil
}

// Render returns the thread's visible lines in event order: posted messages
// (tombstones skipped) and attachment-recorded lines.
func (s *Store) Render(title string) ([]string, error) {
	if _, err := s.getMeta(title); err != nil {
		return nil, err
	}
	evts, err := s.events(title)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, m := range evts {
		switch {
		case m.IsAttachment():
			lines = append(lines, fmt.Sprintf("%s uploaded %s", m.Uploader, m.File))
		case m.Deleted:
			// tombstones keep their slot but are not rendered
		default:
			lines = append(lines, fmt.Sprintf("%d %s: %s", m.Seq, m.Author, m.Body))
		}
	}
	return lines, nil
}

// GetThread returns a copy of the thread metadata.
func (s *Store) GetThread(title string) (*models.Thread, error) {
	return s.getMeta(title)
}

// ListValid returns the titles of all threads, in index order. Only threads
// created through Create exist in the index, so there is nothing to sniff.
func (s *Store) ListValid() ([]string, error) {
	prefix := []byte("thread:")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			logger.Warn("skipping_invalid_thread_meta", "key", string(iter.Key()))
			continue
		}
		out = append(out, th.Title)
	}
	return out, iter.Error()
}

// Remove deletes the thread, its index entries, its record file and all of
// its attachment files. Only the creator may remove a thread; on any
// failure path nothing is deleted.
func (s *Store) Remove(title, requester string) error {
	l := s.titleLock(title)
	l.Lock()
	defer l.Unlock()

	th, err := s.getMeta(title)
	if err != nil {
		return err
	}
	if th.Creator != requester {
		return ErrNotCreator
	}
	// drop all index keys for the thread (meta + events)
	prefix := []byte("thread:" + title + ":")
	end := append(append([]byte(nil), prefix...), 0xff)
	if err := s.db.DeleteRange(prefix, end, pebble.Sync); err != nil {
		logger.Error("thread_remove_failed", "thread", title, "error", err)
		return err
	}
	if err := os.Remove(s.recordPath(title)); err != nil && !os.IsNotExist(err) {
		logger.Warn("thread_record_remove_failed", "thread", title, "error", err)
	}
	for filename := range th.Attachments {
		p := s.AttachmentPath(title, filename)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("attachment_remove_failed", "thread", title, "file", filename, "error", err)
		}
	}
	logger.Info("thread_removed", "thread", title, "requester", requester)
	return nil
}
