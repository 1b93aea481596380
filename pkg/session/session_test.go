package session

import (
	"sync"
	"testing"
)

func TestActivateDeactivate(t *testing.T) {
	r := NewRegistry()
	if r.Active("alice") {
		t.Fatal("alice active before login")
	}
	if !r.Activate("alice") {
		t.Fatal("first Activate failed")
	}
	if !r.Active("alice") {
		t.Fatal("alice not active after Activate")
	}
	if r.Activate("alice") {
		t.Fatal("second Activate succeeded")
	}
	r.Deactivate("alice")
	if r.Active("alice") {
		t.Fatal("alice still active after Deactivate")
	}
	// deactivating an unknown user is a no-op
	r.Deactivate("ghost")
}

func TestConcurrentActivateSingleWinner(t *testing.T) {
	r := NewRegistry()
	const n = 16
	wins := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- r.Activate("alice")
		}()
	}
	wg.Wait()
	close(wins)
	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("%d concurrent logins won; want exactly 1", won)
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
}
