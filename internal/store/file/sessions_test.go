package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/capclaw/internal/store"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	stateDir := t.TempDir()
	workRoot := t.TempDir()
	ctx := context.Background()

	st, err := NewSessionStore(stateDir, workRoot)
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}

	s, err := st.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.PCAPPath = filepath.Join(s.Dir, "capture.pcap")
	s.State = s.State.Advance(store.StateUploaded)
	if err := st.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A fresh store over the same directory must see the record.
	st2, err := NewSessionStore(stateDir, workRoot)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := st2.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.State != store.StateUploaded {
		t.Fatalf("state = %s, want uploaded", got.State)
	}
	if got.PCAPPath != s.PCAPPath {
		t.Fatalf("pcap path = %q, want %q", got.PCAPPath, s.PCAPPath)
	}
}

func TestSessionStoreDestroyRemovesFile(t *testing.T) {
	stateDir := t.TempDir()
	ctx := context.Background()

	st, err := NewSessionStore(stateDir, t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	s, _ := st.Create(ctx)

	path := filepath.Join(stateDir, s.ID+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("record file missing before destroy: %v", err)
	}
	if err := st.Destroy(ctx, s.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("record file still present after destroy: %v", err)
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Fatalf("workdir still present after destroy: %v", err)
	}
	if err := st.Destroy(ctx, s.ID); err != nil {
		t.Fatalf("repeat Destroy: %v", err)
	}
}

func TestSessionStoreSkipsCorruptRecords(t *testing.T) {
	stateDir := t.TempDir()
	ctx := context.Background()

	st, err := NewSessionStore(stateDir, t.TempDir())
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	if _, err := st.Create(ctx); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, "bad.json"), []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}

	st2, err := NewSessionStore(stateDir, t.TempDir())
	if err != nil {
		t.Fatalf("reopen with corrupt record: %v", err)
	}
	all, err := st2.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List returned %d sessions, want 1", len(all))
	}
}
