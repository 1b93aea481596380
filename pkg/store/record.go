package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forumdb/pkg/models"
)

// recordPath is where a thread's plain-text record lives.
func (s *Store) recordPath(title string) string {
	return filepath.Join(s.recordsDir, title)
}

// renderRecord produces the flat-file form of a thread: first line the
// creator identity, then one line per event in creation order. Tombstoned
// messages keep their line (and number) with a deleted marker, so the file
// itself proves numbers are never reused.
func renderRecord(th *models.Thread, evts []models.Message) string {
	var b strings.Builder
	b.WriteString(th.Creator)
	b.WriteByte('\n')
	for _, m := range evts {
		switch {
		case m.IsAttachment():
			fmt.Fprintf(&b, "%s uploaded %s\n", m.Uploader, m.File)
		case m.Deleted:
			fmt.Fprintf(&b, "%d %s: [deleted]\n", m.Seq, m.Author)
		default:
			fmt.Fprintf(&b, "%d %s: %s\n", m.Seq, m.Author, m.Body)
		}
	}
	return b.String()
}

// rewriteRecord writes the record file whole via a temp file and rename, so
// a crash never leaves a truncated record. Caller holds the title lock.
func (s *Store) rewriteRecord(th *models.Thread, evts []models.Message) error {
	path := s.recordPath(th.Title)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(renderRecord(th, evts)), 0o600); err != nil {
		return fmt.Errorf("write record %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace record %s: %w", path, err)
	}
	return nil
}

// rewriteRecordFromDB rewrites the record file from the thread's indexed
// events. Caller holds the title lock.
func (s *Store) rewriteRecordFromDB(th *models.Thread) error {
	evts, err := s.events(th.Title)
	if err != nil {
		return err
	}
	return s.rewriteRecord(th, evts)
}
