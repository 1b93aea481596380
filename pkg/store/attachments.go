package store

import (
	"os"
	"path/filepath"
	"time"

	"forumdb/pkg/logger"
	"forumdb/pkg/models"
)

// AttachmentPath returns where the bytes of (title, filename) live on disk.
func (s *Store) AttachmentPath(title, filename string) string {
	return filepath.Join(s.attachDir, title+"-"+filename)
}

// AttachDir returns the attachments directory (used by the transfer
// coordinator for temp files and by the janitor sweep).
func (s *Store) AttachDir() string { return s.attachDir }

// HasAttachment reports whether the thread has filename recorded.
func (s *Store) HasAttachment(title, filename string) bool {
	th, err := s.getMeta(title)
	if err != nil {
		return false
	}
	_, ok := th.Attachments[filename]
	return ok
}

// RecordAttachment records filename as uploaded by uploader. Attachments are
// immutable once recorded; a duplicate filename is refused.
func (s *Store) RecordAttachment(title, filename, uploader string) error {
	l := s.titleLock(title)
	l.Lock()
	defer l.Unlock()
	return s.recordAttachmentLocked(title, filename, uploader)
}

// CommitAttachment atomically checks for a duplicate, moves the fully
// received temp file into place and records the attachment. Holding the
// title lock across all three steps is what keeps two racing uploads of the
// same filename from clobbering each other: the loser's bytes are discarded
// and nothing of it is recorded.
func (s *Store) CommitAttachment(title, filename, uploader, tmpPath string) error {
	l := s.titleLock(title)
	l.Lock()
	defer l.Unlock()

	th, err := s.getMeta(title)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if _, ok := th.Attachments[filename]; ok {
		_ = os.Remove(tmpPath)
		return ErrAttachmentExists
	}
	if err := os.Rename(tmpPath, s.AttachmentPath(title, filename)); err != nil {
		_ = os.Remove(tmpPath)
		logger.Error("attachment_install_failed", "thread", title, "file", filename, "error", err)
		return err
	}
	return s.recordAttachmentLocked(title, filename, uploader)
}

// recordAttachmentLocked appends the attachment event and updates the
// metadata. Caller holds the title lock.
func (s *Store) recordAttachmentLocked(title, filename, uploader string) error {
	th, err := s.getMeta(title)
	if err != nil {
		return err
	}
	if th.Attachments == nil {
		th.Attachments = make(map[string]string)
	}
	if _, ok := th.Attachments[filename]; ok {
		return ErrAttachmentExists
	}
	th.Attachments[filename] = uploader
	th.LastEvent++
	th.UpdatedTS = time.Now().UTC().UnixNano()
	evt := models.Message{Thread: title, TS: th.UpdatedTS, File: filename, Uploader: uploader}
	if err := s.putEvent(title, th.LastEvent, evt); err != nil {
		logger.Error("attachment_record_failed", "thread", title, "file", filename, "error", err)
		return err
	}
	if err := s.putMeta(th); err != nil {
		return err
	}
	if err := s.rewriteRecordFromDB(th); err != nil {
		return err
	}
	logger.Info("attachment_recorded", "thread", title, "file", filename, "uploader", uploader)
	return nil
}
