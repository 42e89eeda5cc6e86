package session

import (
	"sync"
	"testing"
)

func TestGate_SerializesSameSession(t *testing.T) {
	g := newGate()
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := g.lock("one")
			defer unlock()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
}

func TestGate_ReleasesEntries(t *testing.T) {
	g := newGate()
	unlock := g.lock("a")
	unlock()
	g.mu.Lock()
	n := len(g.locks)
	g.mu.Unlock()
	if n != 0 {
		t.Errorf("gate map should be empty after release, has %d entries", n)
	}
}

func TestGate_IndependentSessionsDoNotBlock(t *testing.T) {
	g := newGate()
	unlockA := g.lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := g.lock("b")
		unlockB()
		close(done)
	}()
	<-done
}
