package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndDuplicate(t *testing.T) {
	s := newStore(t)
	if err := s.Create("general", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// a second create must not touch the existing thread
	if _, err := s.AppendMessage("general", "alice", "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.Create("general", "bob"); err != ErrThreadExists {
		t.Fatalf("expected ErrThreadExists; got %v", err)
	}
	th, err := s.GetThread("general")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if th.Creator != "alice" {
		t.Fatalf("creator changed to %q", th.Creator)
	}
	if th.LastSeq != 1 {
		t.Fatalf("LastSeq = %d after duplicate create", th.LastSeq)
	}
}

func TestAppendToMissingThread(t *testing.T) {
	s := newStore(t)
	if _, err := s.AppendMessage("nope", "alice", "hi"); err != ErrThreadMissing {
		t.Fatalf("expected ErrThreadMissing; got %v", err)
	}
}

func TestSequenceNumbersNeverReused(t *testing.T) {
	s := newStore(t)
	if err := s.Create("t1", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seq1, err := s.AppendMessage("t1", "alice", "hello")
	if err != nil || seq1 != 1 {
		t.Fatalf("first message seq = %d, err = %v", seq1, err)
	}
	if err := s.Tombstone("t1", seq1, "alice"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	seq2, err := s.AppendMessage("t1", "alice", "again")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if seq2 != 2 {
		t.Fatalf("seq after delete = %d; want 2 (deleted numbers must not be reused)", seq2)
	}
}

func TestConcurrentAppendsGapFree(t *testing.T) {
	s := newStore(t)
	if err := s.Create("busy", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	const n = 32
	seqs := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := s.AppendMessage("busy", "alice", "m")
			if err != nil {
				t.Errorf("AppendMessage: %v", err)
				return
			}
			seqs <- seq
		}()
	}
	wg.Wait()
	close(seqs)
	seen := make(map[uint64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("duplicate seq %d", seq)
		}
		seen[seq] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct seqs, want %d", len(seen), n)
	}
	for i := uint64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("gap at seq %d", i)
		}
	}
}

func TestEditAndTombstoneAuthorChecks(t *testing.T) {
	s := newStore(t)
	if err := s.Create("t1", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seq, err := s.AppendMessage("t1", "alice", "original")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.Edit("t1", seq, "bob", "hacked"); err != ErrMessageNotFound {
		t.Fatalf("edit by wrong author: got %v", err)
	}
	if err := s.Tombstone("t1", seq, "bob"); err != ErrMessageNotFound {
		t.Fatalf("delete by wrong author: got %v", err)
	}
	lines, err := s.Render("t1")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(lines) != 1 || lines[0] != "1 alice: original" {
		t.Fatalf("store changed by rejected mutation: %v", lines)
	}
	if err := s.Edit("t1", seq, "alice", "edited"); err != nil {
		t.Fatalf("edit by author: %v", err)
	}
	lines, _ = s.Render("t1")
	if lines[0] != "1 alice: edited" {
		t.Fatalf("edit not applied: %v", lines)
	}
	if err := s.Edit("t1", 99, "alice", "x"); err != ErrMessageNotFound {
		t.Fatalf("edit of unknown seq: got %v", err)
	}
}

func TestTombstonedMessageStaysGone(t *testing.T) {
	s := newStore(t)
	if err := s.Create("t1", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seq, _ := s.AppendMessage("t1", "alice", "bye")
	if err := s.Tombstone("t1", seq, "alice"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	if err := s.Tombstone("t1", seq, "alice"); err != ErrMessageNotFound {
		t.Fatalf("second delete: got %v", err)
	}
	if err := s.Edit("t1", seq, "alice", "revive"); err != ErrMessageNotFound {
		t.Fatalf("edit of tombstone: got %v", err)
	}
	lines, err := s.Render("t1")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("tombstone rendered: %v", lines)
	}
}

func TestRecordFileFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Create("t1", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.AppendMessage("t1", "alice", "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	seq, _ := s.AppendMessage("t1", "bob", "hi")
	if err := s.Tombstone("t1", seq, "bob"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "threads", "t1"))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	want := "alice\n1 alice: hello\n2 bob: [deleted]\n"
	if string(b) != want {
		t.Fatalf("record file = %q, want %q", b, want)
	}
}

func TestListValid(t *testing.T) {
	s := newStore(t)
	titles, err := s.ListValid()
	if err != nil {
		t.Fatalf("ListValid: %v", err)
	}
	if len(titles) != 0 {
		t.Fatalf("expected no threads; got %v", titles)
	}
	for _, title := range []string{"beta", "alpha"} {
		if err := s.Create(title, "alice"); err != nil {
			t.Fatalf("Create %s: %v", title, err)
		}
	}
	titles, err = s.ListValid()
	if err != nil {
		t.Fatalf("ListValid: %v", err)
	}
	if len(titles) != 2 || titles[0] != "alpha" || titles[1] != "beta" {
		t.Fatalf("ListValid = %v", titles)
	}
}

func TestAttachments(t *testing.T) {
	s := newStore(t)
	if err := s.Create("t1", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.RecordAttachment("t1", "report.txt", "alice"); err != nil {
		t.Fatalf("RecordAttachment: %v", err)
	}
	if !s.HasAttachment("t1", "report.txt") {
		t.Fatal("attachment not recorded")
	}
	if err := s.RecordAttachment("t1", "report.txt", "bob"); err != ErrAttachmentExists {
		t.Fatalf("duplicate attachment: got %v", err)
	}
	th, _ := s.GetThread("t1")
	if th.Attachments["report.txt"] != "alice" {
		t.Fatalf("uploader = %q, want alice", th.Attachments["report.txt"])
	}
	lines, _ := s.Render("t1")
	if len(lines) != 1 || lines[0] != "alice uploaded report.txt" {
		t.Fatalf("render = %v", lines)
	}
	if err := s.RecordAttachment("nope", "f", "alice"); err != ErrThreadMissing {
		t.Fatalf("attachment on missing thread: got %v", err)
	}
}

func TestCommitAttachment(t *testing.T) {
	s := newStore(t)
	if err := s.Create("t1", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	tmp := filepath.Join(s.AttachDir(), ".upload-x.part")
	if err := os.WriteFile(tmp, []byte("0123456789"), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := s.CommitAttachment("t1", "data.bin", "alice", tmp); err != nil {
		t.Fatalf("CommitAttachment: %v", err)
	}
	b, err := os.ReadFile(s.AttachmentPath("t1", "data.bin"))
	if err != nil || string(b) != "0123456789" {
		t.Fatalf("attachment bytes = %q, err = %v", b, err)
	}
	// losing a race discards the temp file and records nothing
	tmp2 := filepath.Join(s.AttachDir(), ".upload-y.part")
	if err := os.WriteFile(tmp2, []byte("other"), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := s.CommitAttachment("t1", "data.bin", "bob", tmp2); err != ErrAttachmentExists {
		t.Fatalf("duplicate commit: got %v", err)
	}
	if _, err := os.Stat(tmp2); !os.IsNotExist(err) {
		t.Fatalf("losing temp file not cleaned up: %v", err)
	}
	b, _ = os.ReadFile(s.AttachmentPath("t1", "data.bin"))
	if string(b) != "0123456789" {
		t.Fatalf("winner's bytes clobbered: %q", b)
	}
}

func TestRemove(t *testing.T) {
	s := newStore(t)
	if err := s.Create("t1", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.AppendMessage("t1", "alice", "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.RecordAttachment("t1", "f.txt", "alice"); err != nil {
		t.Fatalf("RecordAttachment: %v", err)
	}
	if err := os.WriteFile(s.AttachmentPath("t1", "f.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write attachment: %v", err)
	}

	if err := s.Remove("t1", "bob"); err != ErrNotCreator {
		t.Fatalf("remove by non-creator: got %v", err)
	}
	if lines, err := s.Render("t1"); err != nil || len(lines) != 2 {
		t.Fatalf("store changed by rejected remove: %v %v", lines, err)
	}

	if err := s.Remove("t1", "alice"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.GetThread("t1"); err != ErrThreadMissing {
		t.Fatalf("thread still present: %v", err)
	}
	if _, err := os.Stat(s.AttachmentPath("t1", "f.txt")); !os.IsNotExist(err) {
		t.Fatalf("attachment bytes survived remove: %v", err)
	}
	if err := s.Remove("t1", "alice"); err != ErrThreadMissing {
		t.Fatalf("remove of missing thread: got %v", err)
	}
}

func TestReopenKeepsCounter(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Create("t1", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seq, _ := s.AppendMessage("t1", "alice", "one")
	if err := s.Tombstone("t1", seq, "alice"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	seq2, err := s2.AppendMessage("t1", "alice", "two")
	if err != nil {
		t.Fatalf("AppendMessage after reopen: %v", err)
	}
	if seq2 != 2 {
		t.Fatalf("seq after reopen = %d; counter must survive restarts", seq2)
	}
}

func TestRenderMissingThread(t *testing.T) {
	s := newStore(t)
	if _, err := s.Render("ghost"); err != ErrThreadMissing {
		t.Fatalf("expected ErrThreadMissing; got %v", err)
	}
}

func TestDifferentThreadsIndependent(t *testing.T) {
	s := newStore(t)
	for _, title := range []string{"a", "b"} {
		if err := s.Create(title, "alice"); err != nil {
			t.Fatalf("Create %s: %v", title, err)
		}
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := "a"
			if i%2 == 0 {
				title = "b"
			}
			if _, err := s.AppendMessage(title, "alice", strings.Repeat("x", i+1)); err != nil {
				t.Errorf("AppendMessage %s: %v", title, err)
			}
		}(i)
	}
	wg.Wait()
	for _, title := range []string{"a", "b"} {
		th, err := s.GetThread(title)
		if err != nil {
			t.Fatalf("GetThread %s: %v", title, err)
		}
		if th.LastSeq != 8 {
			t.Fatalf("thread %s LastSeq = %d, want 8", title, th.LastSeq)
		}
	}
}
