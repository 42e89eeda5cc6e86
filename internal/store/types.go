package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// State is a session's position in the analysis pipeline.
// Transitions only ever move forward; Destroy is the only way out.
type State string

const (
	StateEmpty    State = "empty"
	StateUploaded State = "uploaded"
	StateDecoded  State = "decoded"
	StateIndexed  State = "indexed"
	StateReady    State = "ready"
)

// order maps states to their pipeline position for monotonic advancement.
var order = map[State]int{
	StateEmpty:    0,
	StateUploaded: 1,
	StateDecoded:  2,
	StateIndexed:  3,
	StateReady:    4,
}

// Advance returns the later of the two states. Re-running an earlier stage
// never regresses a session.
func (s State) Advance(to State) State {
	if order[to] > order[s] {
		return to
	}
	return s
}

// AtLeast reports whether the session has reached the given stage.
func (s State) AtLeast(min State) bool {
	return order[s] >= order[min]
}

// Session is one capture-analysis session. Fields are append-only: later
// pipeline stages add artifacts, nothing removes them short of Destroy.
type Session struct {
	ID         string    `json:"id"`
	Dir        string    `json:"dir"`
	PCAPPath   string    `json:"pcap_path,omitempty"`
	JSONPath   string    `json:"json_path,omitempty"`
	FrameCount int       `json:"frame_count,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	Priming    string    `json:"priming,omitempty"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IndexDir is the persisted vector-index subdirectory for this session.
func (s *Session) IndexDir() string {
	return fmt.Sprintf("%s/index_%s", s.Dir, s.ID)
}

// Clone returns a copy so callers can mutate without racing the store.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// ErrNotFound is returned by Get for unknown session IDs.
var ErrNotFound = errors.New("session not found")

// SessionStore is the injectable session-record store. Implementations must
// be safe for concurrent use by independent sessions. Working directories
// always live on the local filesystem regardless of where records live.
type SessionStore interface {
	// Create allocates a fresh session ID and working directory.
	Create(ctx context.Context) (*Session, error)

	// GetOrCreate returns the existing session or lazily creates one with a
	// directory scoped under the given ID. Used defensively when a caller
	// references a session before an explicit Create.
	GetOrCreate(ctx context.Context, id string) (*Session, error)

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Put persists a mutated session record.
	Put(ctx context.Context, s *Session) error

	// List returns all sessions, oldest first.
	List(ctx context.Context) ([]*Session, error)

	// Destroy removes the record and deletes the working directory
	// recursively. Idempotent: unknown IDs and missing directories are not
	// errors, and deletion failures are swallowed (cleanup is advisory).
	Destroy(ctx context.Context, id string) error

	Close() error
}

// NewID generates a session identifier.
func NewID() string {
	return uuid.NewString()
}

// NewWorkDir creates a uniquely named session working directory under root.
// An empty root falls back to the system temp directory.
func NewWorkDir(root, id string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create sessions root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "pcap_"+id+"_")
	if err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// RemoveWorkDir deletes a session working directory, best-effort.
func RemoveWorkDir(dir string) {
	if dir == "" {
		return
	}
	_ = os.RemoveAll(dir)
}

// NewSession builds a fresh empty session record with its working directory.
func NewSession(root, id string) (*Session, error) {
	dir, err := NewWorkDir(root, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		ID:        id,
		Dir:       dir,
		State:     StateEmpty,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
