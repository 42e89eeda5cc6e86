package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/capclaw/internal/store"
)

// SessionStore implements store.SessionStore on Postgres. Records are
// shared across instances; working directories remain node-local.
type SessionStore struct {
	db   *sqlx.DB
	root string
}

// NewSessionStore wraps an open, migrated DB handle.
func NewSessionStore(db *sqlx.DB, root string) *SessionStore {
	return &SessionStore{db: db, root: root}
}

type sessionRow struct {
	ID         string    `db:"id"`
	Dir        string    `db:"dir"`
	PCAPPath   string    `db:"pcap_path"`
	JSONPath   string    `db:"json_path"`
	FrameCount int       `db:"frame_count"`
	ChunkCount int       `db:"chunk_count"`
	Priming    string    `db:"priming"`
	State      string    `db:"state"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r sessionRow) toSession() *store.Session {
	return &store.Session{
		ID:         r.ID,
		Dir:        r.Dir,
		PCAPPath:   r.PCAPPath,
		JSONPath:   r.JSONPath,
		FrameCount: r.FrameCount,
		ChunkCount: r.ChunkCount,
		Priming:    r.Priming,
		State:      store.State(r.State),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func fromSession(s *store.Session) sessionRow {
	return sessionRow{
		ID:         s.ID,
		Dir:        s.Dir,
		PCAPPath:   s.PCAPPath,
		JSONPath:   s.JSONPath,
		FrameCount: s.FrameCount,
		ChunkCount: s.ChunkCount,
		Priming:    s.Priming,
		State:      string(s.State),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (p *SessionStore) Create(ctx context.Context) (*store.Session, error) {
	return p.GetOrCreate(ctx, store.NewID())
}

func (p *SessionStore) GetOrCreate(ctx context.Context, id string) (*store.Session, error) {
	if s, err := p.Get(ctx, id); err == nil {
		return s, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	s, err := store.NewSession(p.root, id)
	if err != nil {
		return nil, err
	}
	_, err = p.db.NamedExecContext(ctx,
		`INSERT INTO capclaw_sessions (id, dir, pcap_path, json_path, frame_count, chunk_count, priming, state, created_at, updated_at)
		 VALUES (:id, :dir, :pcap_path, :json_path, :frame_count, :chunk_count, :priming, :state, :created_at, :updated_at)
		 ON CONFLICT (id) DO NOTHING`,
		fromSession(s))
	if err != nil {
		store.RemoveWorkDir(s.Dir)
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return p.Get(ctx, id)
}

func (p *SessionStore) Get(ctx context.Context, id string) (*store.Session, error) {
	var row sessionRow
	err := p.db.GetContext(ctx, &row, "SELECT * FROM capclaw_sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session: %w", err)
	}
	return row.toSession(), nil
}

func (p *SessionStore) Put(ctx context.Context, s *store.Session) error {
	c := s.Clone()
	c.UpdatedAt = time.Now()
	_, err := p.db.NamedExecContext(ctx,
		`UPDATE capclaw_sessions
		 SET pcap_path = :pcap_path, json_path = :json_path, frame_count = :frame_count,
		     chunk_count = :chunk_count, priming = :priming, state = :state, updated_at = :updated_at
		 WHERE id = :id`,
		fromSession(c))
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (p *SessionStore) List(ctx context.Context) ([]*store.Session, error) {
	var rows []sessionRow
	err := p.db.SelectContext(ctx, &rows, "SELECT * FROM capclaw_sessions ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*store.Session, len(rows))
	for i, r := range rows {
		out[i] = r.toSession()
	}
	return out, nil
}

func (p *SessionStore) Destroy(ctx context.Context, id string) error {
	s, err := p.Get(ctx, id)
	if err == nil {
		store.RemoveWorkDir(s.Dir)
	}
	p.db.ExecContext(ctx, "DELETE FROM capclaw_sessions WHERE id = $1", id)
	return nil
}

func (p *SessionStore) Close() error { return p.db.Close() }
