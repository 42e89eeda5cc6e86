// Package file provides a filesystem-backed session store for standalone
// deployments. Each session record is one JSON file under the state dir, so
// sessions survive restarts alongside their on-disk artifacts.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/capclaw/internal/store"
)

// SessionStore persists session records as <stateDir>/<id>.json.
type SessionStore struct {
	mu       sync.RWMutex
	stateDir string
	root     string
	sessions map[string]*store.Session
}

// NewSessionStore loads any existing records from stateDir. root is the
// parent directory for session working dirs.
func NewSessionStore(stateDir, root string) (*SessionStore, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session state dir: %w", err)
	}
	fs := &SessionStore{
		stateDir: stateDir,
		root:     root,
		sessions: make(map[string]*store.Session),
	}
	fs.loadAll()
	return fs, nil
}

func (f *SessionStore) loadAll() {
	entries, err := os.ReadDir(f.stateDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.stateDir, e.Name()))
		if err != nil {
			continue
		}
		var s store.Session
		if err := json.Unmarshal(data, &s); err != nil {
			slog.Warn("skipping unreadable session record", "file", e.Name(), "error", err)
			continue
		}
		if s.ID == "" {
			continue
		}
		f.sessions[s.ID] = &s
	}
	if n := len(f.sessions); n > 0 {
		slog.Info("loaded session records", "count", n, "dir", f.stateDir)
	}
}

func (f *SessionStore) recordPath(id string) string {
	return filepath.Join(f.stateDir, id+".json")
}

func (f *SessionStore) save(s *store.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.recordPath(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.recordPath(s.ID))
}

func (f *SessionStore) Create(ctx context.Context) (*store.Session, error) {
	return f.GetOrCreate(ctx, store.NewID())
}

func (f *SessionStore) GetOrCreate(_ context.Context, id string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return s.Clone(), nil
	}
	s, err := store.NewSession(f.root, id)
	if err != nil {
		return nil, err
	}
	if err := f.save(s); err != nil {
		store.RemoveWorkDir(s.Dir)
		return nil, fmt.Errorf("persist session record: %w", err)
	}
	f.sessions[id] = s
	return s.Clone(), nil
}

func (f *SessionStore) Get(_ context.Context, id string) (*store.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.Clone(), nil
}

func (f *SessionStore) Put(_ context.Context, s *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := s.Clone()
	c.UpdatedAt = time.Now()
	if err := f.save(c); err != nil {
		return fmt.Errorf("persist session record: %w", err)
	}
	f.sessions[c.ID] = c
	return nil
}

func (f *SessionStore) List(_ context.Context) ([]*store.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*store.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *SessionStore) Destroy(_ context.Context, id string) error {
	f.mu.Lock()
	s, ok := f.sessions[id]
	delete(f.sessions, id)
	os.Remove(f.recordPath(id))
	f.mu.Unlock()

	if ok {
		store.RemoveWorkDir(s.Dir)
	}
	return nil
}

func (f *SessionStore) Close() error { return nil }
