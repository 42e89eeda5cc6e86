package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/capclaw/internal/embedding"
)

// DBFile is the index filename inside a session's index directory.
const DBFile = "chunks.db"

// Hybrid search weights: vector similarity dominates, keyword match
// breaks ties and catches exact field values embeddings miss.
const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY,
	seq INTEGER NOT NULL,
	text TEXT NOT NULL,
	frame_first INTEGER NOT NULL,
	frame_last INTEGER NOT NULL,
	embedding BLOB NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text,
	content='chunks',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
END;

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is a persisted chunk index backed by a single sqlite file.
// Writes happen once at build time; afterwards the store only serves
// reads, so chunk vectors are cached in memory after the first search.
type Store struct {
	db   *sql.DB
	path string

	mu   sync.Mutex
	vecs []storedVec
}

type storedVec struct {
	id  int64
	vec []float32
}

// Hit is one search result.
type Hit struct {
	Chunk Chunk
	Score float64
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

// Create makes a fresh index at dir/chunks.db, replacing any previous
// one. Re-indexing a session starts over rather than merging.
func Create(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	path := filepath.Join(dir, DBFile)
	for _, stale := range []string{path, path + "-wal", path + "-shm"} {
		os.Remove(stale)
	}
	return open(path)
}

// Open opens an existing index.
func Open(dir string) (*Store, error) {
	path := filepath.Join(dir, DBFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return open(path)
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// AddChunks inserts chunks in one transaction.
func (s *Store) AddChunks(ctx context.Context, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (seq, text, frame_first, frame_last, embedding) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.Seq, ch.Text, ch.FrameFirst, ch.FrameLast, encodeVec(ch.Vector)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	s.vecs = nil // force reload on next search
	s.mu.Unlock()
	return nil
}

// SetMeta stores a metadata value (priming text, counts).
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// GetMeta reads a metadata value; missing keys return "".
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// Count returns the number of indexed chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// Search returns the top-k chunks for a query, blending vector
// similarity with FTS5 keyword rank.
func (s *Store) Search(ctx context.Context, queryVec []float32, queryText string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	scores := make(map[int64]float64)

	vecs, err := s.loadVectors(ctx)
	if err != nil {
		return nil, err
	}
	for _, sv := range vecs {
		cos := embedding.Cosine(queryVec, sv.vec)
		scores[sv.id] = vectorWeight * (cos + 1) / 2
	}

	if match := ftsQuery(queryText); match != "" {
		rows, err := s.db.QueryContext(ctx,
			"SELECT rowid, bm25(chunks_fts) FROM chunks_fts WHERE chunks_fts MATCH ? ORDER BY bm25(chunks_fts) LIMIT ?",
			match, k)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		for rows.Next() {
			var id int64
			var rank float64
			if err := rows.Scan(&id, &rank); err != nil {
				rows.Close()
				return nil, err
			}
			goodness := math.Max(0, -rank)
			scores[id] += keywordWeight * goodness / (1 + goodness)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	type scored struct {
		id    int64
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for id, sc := range scores {
		ranked = append(ranked, scored{id, sc})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	hits := make([]Hit, 0, len(ranked))
	for _, r := range ranked {
		ch, err := s.chunkByID(ctx, r.id)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Chunk: ch, Score: r.score})
	}
	return hits, nil
}

func (s *Store) chunkByID(ctx context.Context, id int64) (Chunk, error) {
	var ch Chunk
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT seq, text, frame_first, frame_last, embedding FROM chunks WHERE id = ?", id).
		Scan(&ch.Seq, &ch.Text, &ch.FrameFirst, &ch.FrameLast, &blob)
	if err != nil {
		return Chunk{}, fmt.Errorf("load chunk %d: %w", id, err)
	}
	ch.Vector = decodeVec(blob)
	return ch, nil
}

func (s *Store) loadVectors(ctx context.Context) ([]storedVec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vecs != nil {
		return s.vecs, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM chunks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	defer rows.Close()

	var vecs []storedVec
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vecs = append(vecs, storedVec{id: id, vec: decodeVec(blob)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.vecs = vecs
	return vecs, nil
}

var ftsToken = regexp.MustCompile(`[A-Za-z0-9_.:-]+`)

// ftsQuery turns a free-text question into an FTS5 OR-query. Tokens
// are quoted so protocol field names and addresses survive the FTS
// syntax. Returns "" when the question has no usable tokens.
func ftsQuery(text string) string {
	tokens := ftsToken.FindAllString(text, 24)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(quoted, " OR ")
}

func encodeVec(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVec(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
