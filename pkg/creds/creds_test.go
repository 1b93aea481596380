package creds

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "credentials.txt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Exists("anyone") {
		t.Fatal("empty store reported an account")
	}
}

func TestCreateAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.txt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Create("alice", "s3cret"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !s.Verify("alice", "s3cret") {
		t.Fatal("Verify rejected correct secret")
	}
	if s.Verify("alice", "wrong") {
		t.Fatal("Verify accepted wrong secret")
	}
	if err := s.Create("alice", "other"); err != ErrUserExists {
		t.Fatalf("duplicate create: got %v", err)
	}

	// persisted format: one "username secret" line per account
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read credentials: %v", err)
	}
	if string(b) != "alice s3cret\n" {
		t.Fatalf("file = %q", b)
	}
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.txt")
	s, _ := Open(path)
	if err := s.Create("alice", "pw one"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create("bob", "pw2"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	// secrets may contain spaces; only the first space splits
	if !s2.Verify("alice", "pw one") {
		t.Fatal("secret with space lost on reload")
	}
	if !s2.Verify("bob", "pw2") {
		t.Fatal("bob lost on reload")
	}
}

func TestConcurrentCreatesNoLostUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.txt")
	s, _ := Open(path)
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Create("user"+string(rune('a'+i)), "pw"); err != nil {
				t.Errorf("Create: %v", err)
			}
		}(i)
	}
	wg.Wait()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read credentials: %v", err)
	}
	lines := strings.Count(string(b), "\n")
	if lines != n {
		t.Fatalf("file has %d lines, want %d (lost update)", lines, n)
	}
}
