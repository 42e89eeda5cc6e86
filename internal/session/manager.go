// Package session implements the capture-analysis lifecycle. One
// Manager owns the session store, the decoder, the index builder and
// the live query engines; every pipeline stage runs under a per-session
// gate so stages for the same session never interleave.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/capclaw/internal/capture"
	"github.com/nextlevelbuilder/capclaw/internal/embedding"
	"github.com/nextlevelbuilder/capclaw/internal/index"
	"github.com/nextlevelbuilder/capclaw/internal/prompts"
	"github.com/nextlevelbuilder/capclaw/internal/providers"
	"github.com/nextlevelbuilder/capclaw/internal/query"
	"github.com/nextlevelbuilder/capclaw/internal/store"
)

const tracerName = "capclaw/session"

// primingTemplate renders the analyst persona around the sampled frames.
const primingTemplate = "analysis/system"

// Options wires a Manager.
type Options struct {
	Store    store.SessionStore
	Decoder  *capture.Decoder
	Embedder embedding.Provider
	Prompts  *prompts.Library
	// Clients maps provider name ("openai", "google") to its client.
	Clients map[string]providers.Client

	// AskProvider and AskModel select the answering model.
	AskProvider         string
	AskModel            string
	AskTemperature      float64
	HistoryBudgetTokens int
	KeepRecentExchanges int
	GuardAction         string

	RetrievalK           int
	BreakpointPercentile float64
	PrimingUnits         int
	// EncryptionKey decrypts decoded artifacts written by the decoder.
	EncryptionKey  string
	MaxUploadBytes int64

	Logger *slog.Logger
}

// Manager runs the six capture-session operations plus the supporting
// listing and shutdown paths. Engine handles are process-local; for
// sessions restored from a persistent store they are rebuilt lazily
// from the on-disk index.
type Manager struct {
	store    store.SessionStore
	decoder  *capture.Decoder
	embedder embedding.Provider
	prompts  *prompts.Library
	clients  map[string]providers.Client

	askProvider string
	askModel    string
	askTemp     float64
	histBudget  int
	histKeep    int
	guardAction string
	guard       *query.QuestionGuard

	retrievalK   int
	percentile   float64
	primingUnits int
	cryptoKey    string
	maxUpload    int64

	gate   *gate
	tracer trace.Tracer
	log    *slog.Logger

	mu      sync.Mutex
	engines map[string]*query.Engine
}

// NewManager creates a Manager from opts. Zero option values fall back
// to the pipeline defaults.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:        opts.Store,
		decoder:      opts.Decoder,
		embedder:     opts.Embedder,
		prompts:      opts.Prompts,
		clients:      opts.Clients,
		askProvider:  opts.AskProvider,
		askModel:     opts.AskModel,
		askTemp:      opts.AskTemperature,
		histBudget:   opts.HistoryBudgetTokens,
		histKeep:     opts.KeepRecentExchanges,
		guardAction:  opts.GuardAction,
		guard:        query.NewQuestionGuard(),
		retrievalK:   opts.RetrievalK,
		percentile:   opts.BreakpointPercentile,
		primingUnits: opts.PrimingUnits,
		cryptoKey:    opts.EncryptionKey,
		maxUpload:    opts.MaxUploadBytes,
		gate:         newGate(),
		tracer:       otel.Tracer(tracerName),
		log:          logger,
		engines:      make(map[string]*query.Engine),
	}
	if m.askProvider == "" {
		m.askProvider = "google"
	}
	if m.guardAction == "" {
		m.guardAction = query.GuardWarn
	}
	if m.maxUpload <= 0 {
		m.maxUpload = 512 << 20
	}
	return m
}

// normalizeID sanitizes a caller-provided session ID. Blank IDs share
// the "default" session, mirroring clients that never call new_session.
func normalizeID(id string) string {
	if n := store.NormalizeID(id); n != "" {
		return n
	}
	return "default"
}

// NewSession creates a fresh session and returns its ID.
func (m *Manager) NewSession(ctx context.Context) (string, error) {
	ctx, span := m.tracer.Start(ctx, "session.new")
	defer span.End()

	s, err := m.store.Create(ctx)
	if err != nil {
		return "", spanErr(span, fmt.Errorf("create session: %w", err))
	}
	span.SetAttributes(attribute.String("capclaw.session_id", s.ID))
	m.log.Info("session created", "session", s.ID, "dir", s.Dir)
	return s.ID, nil
}

// Upload stores a base64-encoded capture in the session's working
// directory and returns the server-local path.
func (m *Manager) Upload(ctx context.Context, id, filename, dataB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return "", &UploadError{Msg: "decode base64 payload", Err: err}
	}
	return m.UploadBytes(ctx, id, filename, raw)
}

// UploadBytes stores raw capture bytes verbatim. The directory watcher
// uses this path directly; Upload funnels through it after decoding.
func (m *Manager) UploadBytes(ctx context.Context, id, filename string, raw []byte) (string, error) {
	id = normalizeID(id)
	ctx, span := m.opSpan(ctx, "session.upload", id)
	defer span.End()
	unlock := m.gate.lock(id)
	defer unlock()

	if int64(len(raw)) > m.maxUpload {
		return "", spanErr(span, &UploadError{
			Msg: fmt.Sprintf("upload of %d bytes exceeds the %d byte limit", len(raw), m.maxUpload),
		})
	}
	name := filepath.Base(filename)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", spanErr(span, &UploadError{Msg: fmt.Sprintf("unusable filename %q", filename)})
	}

	s, err := m.store.GetOrCreate(ctx, id)
	if err != nil {
		return "", spanErr(span, err)
	}

	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", spanErr(span, &UploadError{Msg: "write capture", Err: err})
	}

	s.PCAPPath = path
	s.State = s.State.Advance(store.StateUploaded)
	if err := m.store.Put(ctx, s); err != nil {
		return "", spanErr(span, err)
	}

	m.log.Info("capture uploaded", "session", id, "file", name, "bytes", len(raw))
	return path, nil
}

// Decode runs the decoder over the session's capture, producing the
// scrubbed JSON artifact, and returns its path.
func (m *Manager) Decode(ctx context.Context, id string) (string, error) {
	id = normalizeID(id)
	ctx, span := m.opSpan(ctx, "session.decode", id)
	defer span.End()
	unlock := m.gate.lock(id)
	defer unlock()

	s, err := m.store.GetOrCreate(ctx, id)
	if err != nil {
		return "", spanErr(span, err)
	}
	if s.PCAPPath == "" {
		return "", spanErr(span, &NotReadyError{Msg: MsgNoPCAP})
	}

	jsonPath, err := m.decoder.Decode(ctx, s.PCAPPath)
	if err != nil {
		return "", spanErr(span, err)
	}

	s.JSONPath = jsonPath
	s.State = s.State.Advance(store.StateDecoded)
	if err := m.store.Put(ctx, s); err != nil {
		return "", spanErr(span, err)
	}
	return jsonPath, nil
}

// Index chunks the decoded JSON, persists the session index, builds the
// query engine and returns the summary literal.
func (m *Manager) Index(ctx context.Context, id string) (string, error) {
	id = normalizeID(id)
	ctx, span := m.opSpan(ctx, "session.index", id)
	defer span.End()
	unlock := m.gate.lock(id)
	defer unlock()

	s, err := m.store.GetOrCreate(ctx, id)
	if err != nil {
		return "", spanErr(span, err)
	}
	if s.JSONPath == "" {
		return "", spanErr(span, &NotReadyError{Msg: MsgNoJSON})
	}

	result, err := index.Build(ctx, index.BuildOptions{
		JSONPath:     s.JSONPath,
		IndexDir:     s.IndexDir(),
		Embedder:     m.embedder,
		Percentile:   m.percentile,
		PrimingUnits: m.primingUnits,
		DecryptKey:   m.cryptoKey,
	})
	if err != nil {
		return "", spanErr(span, err)
	}

	priming, err := m.renderPriming(result.Sample)
	if err != nil {
		return "", spanErr(span, err)
	}

	s.FrameCount = result.FrameCount
	s.ChunkCount = result.ChunkCount
	s.Priming = priming
	s.State = s.State.Advance(store.StateIndexed)

	// Re-indexing replaces any live engine along with its conversation.
	m.dropEngine(id)
	if eng, err := m.newEngine(s); err != nil {
		// Index succeeded but the session cannot answer questions yet;
		// the first Ask retries engine construction.
		m.log.Error("engine not started, session degraded to indexed", "session", id, "error", err)
		span.SetAttributes(attribute.Bool("capclaw.engine_degraded", true))
	} else {
		m.mu.Lock()
		m.engines[id] = eng
		m.mu.Unlock()
		s.State = s.State.Advance(store.StateReady)
	}

	if err := m.store.Put(ctx, s); err != nil {
		return "", spanErr(span, err)
	}

	span.SetAttributes(
		attribute.Int("capclaw.chunks", result.ChunkCount),
		attribute.Int("capclaw.frames", result.FrameCount),
	)
	return fmt.Sprintf("Indexed %d chunks from %d packets.", result.ChunkCount, result.FrameCount), nil
}

// Ask answers a question against the session's index. A session that
// has not been indexed yet gets the not-ready literal as its answer;
// unknown session IDs behave like empty sessions rather than erroring.
func (m *Manager) Ask(ctx context.Context, id, question string) (string, error) {
	id = normalizeID(id)
	ctx, span := m.opSpan(ctx, "session.ask", id)
	defer span.End()
	unlock := m.gate.lock(id)
	defer unlock()

	s, err := m.store.GetOrCreate(ctx, id)
	if err != nil {
		return "", spanErr(span, err)
	}
	if !s.State.AtLeast(store.StateIndexed) {
		return MsgNotIndexed, nil
	}

	eng, err := m.engine(ctx, s)
	if err != nil {
		return "", spanErr(span, err)
	}

	answer, err := eng.Ask(ctx, question)
	if err != nil {
		return "", spanErr(span, err)
	}
	return answer, nil
}

// Cleanup deletes the session record, working directory and engine.
// Idempotent: cleaning an unknown session still returns "ok".
func (m *Manager) Cleanup(ctx context.Context, id string) (string, error) {
	id = normalizeID(id)
	ctx, span := m.opSpan(ctx, "session.cleanup", id)
	defer span.End()
	unlock := m.gate.lock(id)
	defer unlock()

	m.dropEngine(id)
	if err := m.store.Destroy(ctx, id); err != nil {
		return "", spanErr(span, err)
	}
	m.log.Info("session cleaned up", "session", id)
	return "ok", nil
}

// Get returns the session record, or store.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*store.Session, error) {
	return m.store.Get(ctx, normalizeID(id))
}

// List returns all sessions, oldest first.
func (m *Manager) List(ctx context.Context) ([]*store.Session, error) {
	return m.store.List(ctx)
}

// Close releases all engines and the store.
func (m *Manager) Close() error {
	m.mu.Lock()
	for id, eng := range m.engines {
		eng.Close()
		delete(m.engines, id)
	}
	m.mu.Unlock()
	return m.store.Close()
}

// engine returns the live engine for s, rebuilding it from the
// persisted index when the process has none (restart case).
func (m *Manager) engine(ctx context.Context, s *store.Session) (*query.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[s.ID]; ok {
		return eng, nil
	}

	eng, err := m.newEngine(s)
	if err != nil {
		return nil, err
	}
	m.engines[s.ID] = eng

	if !s.State.AtLeast(store.StateReady) {
		s.State = s.State.Advance(store.StateReady)
		if err := m.store.Put(ctx, s); err != nil {
			m.log.Warn("persist ready state", "session", s.ID, "error", err)
		}
	}
	m.log.Info("engine rebuilt from persisted index", "session", s.ID)
	return eng, nil
}

// newEngine opens the session's persisted index and binds it to the
// configured ask provider. Caller stores the handle.
func (m *Manager) newEngine(s *store.Session) (*query.Engine, error) {
	client, ok := m.clients[m.askProvider]
	if !ok || client == nil {
		return nil, fmt.Errorf("ask provider %q not configured", m.askProvider)
	}

	st, err := index.Open(s.IndexDir())
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}

	system := s.Priming
	if system == "" {
		// Records written before priming persistence carry the sample in
		// the index itself.
		sample, err := st.GetMeta(context.Background(), index.MetaSample)
		if err == nil && sample != "" {
			if p, perr := m.renderPriming(sample); perr == nil {
				system = p
			}
		}
	}

	return query.New(query.Options{
		Store:               st,
		Embedder:            m.embedder,
		Client:              client,
		Model:               m.askModel,
		Temperature:         m.askTemp,
		RetrieveK:           m.retrievalK,
		System:              system,
		Guard:               m.guard,
		GuardAction:         m.guardAction,
		HistoryBudgetTokens: m.histBudget,
		KeepRecentExchanges: m.histKeep,
		Logger:              m.log,
	}), nil
}

func (m *Manager) dropEngine(id string) {
	m.mu.Lock()
	eng, ok := m.engines[id]
	delete(m.engines, id)
	m.mu.Unlock()
	if ok {
		eng.Close()
	}
}

func (m *Manager) renderPriming(sample string) (string, error) {
	r, err := m.prompts.Render(primingTemplate, map[string]string{"Sample": sample})
	if err != nil {
		return "", fmt.Errorf("render priming: %w", err)
	}
	return r.Text, nil
}

func (m *Manager) opSpan(ctx context.Context, name, id string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("capclaw.session_id", id),
	))
}

// spanErr records err on the span and passes it through.
func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
