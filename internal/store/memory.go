package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps session records in a synchronized in-process map.
// Default backing for stdio serving and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	root     string
}

// NewMemoryStore creates an in-memory session store. root is the parent
// directory for session working dirs.
func NewMemoryStore(root string) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		root:     root,
	}
}

func (m *MemoryStore) Create(ctx context.Context) (*Session, error) {
	return m.GetOrCreate(ctx, NewID())
}

func (m *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	if s, ok := m.sessions[id]; ok {
		m.mu.RUnlock()
		return s.Clone(), nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Clone(), nil
	}
	s, err := NewSession(m.root, id)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	return s.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := s.Clone()
	c.UpdatedAt = time.Now()
	m.sessions[s.ID] = c
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Destroy(_ context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		RemoveWorkDir(s.Dir)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
