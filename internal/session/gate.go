package session

import "sync"

// gate serializes pipeline stages per session: the second caller for a
// session blocks until the first finishes, while different sessions
// proceed in parallel. Entries are reference counted so the map does
// not grow with dead session IDs.
type gate struct {
	mu    sync.Mutex
	locks map[string]*gateEntry
}

type gateEntry struct {
	mu   sync.Mutex
	refs int
}

func newGate() *gate {
	return &gate{locks: make(map[string]*gateEntry)}
}

// lock acquires the per-session lock and returns its release func.
func (g *gate) lock(id string) func() {
	g.mu.Lock()
	e, ok := g.locks[id]
	if !ok {
		e = &gateEntry{}
		g.locks[id] = e
	}
	e.refs++
	g.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		g.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(g.locks, id)
		}
		g.mu.Unlock()
	}
}
