// Package query answers natural-language questions about an indexed
// capture. An Engine binds one session's chunk index to a completion
// provider: each question is embedded, the top chunks are retrieved and
// appended to the session's priming instructions, and the conversation
// so far rides along inside a token-budgeted window.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/capclaw/internal/embedding"
	"github.com/nextlevelbuilder/capclaw/internal/index"
	"github.com/nextlevelbuilder/capclaw/internal/providers"
)

// defaultRetrieveK is how many chunks ground each answer.
const defaultRetrieveK = 50

// noAnswer is returned when the provider comes back empty.
const noAnswer = "No response generated."

// Options configures an Engine.
type Options struct {
	Store    *index.Store
	Embedder embedding.Provider
	Client   providers.Client
	Model    string
	// Temperature is passed through on every completion.
	Temperature float64
	// RetrieveK overrides defaultRetrieveK when positive.
	RetrieveK int
	// System is the session's priming instructions; retrieved context is
	// appended to it per question.
	System string

	Guard       *QuestionGuard
	GuardAction string

	HistoryBudgetTokens int
	KeepRecentExchanges int

	Logger *slog.Logger
}

// Engine answers questions against one session's index. Safe for
// concurrent use; history appends are serialized internally.
type Engine struct {
	store    *index.Store
	embedder embedding.Provider
	client   providers.Client
	model    string
	temp     float64
	k        int
	system   string
	guard    *QuestionGuard
	action   string
	history  *History
	log      *slog.Logger
}

// New creates an Engine from opts.
func New(opts Options) *Engine {
	k := opts.RetrieveK
	if k <= 0 {
		k = defaultRetrieveK
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    opts.Store,
		embedder: opts.Embedder,
		client:   opts.Client,
		model:    opts.Model,
		temp:     opts.Temperature,
		k:        k,
		system:   opts.System,
		guard:    opts.Guard,
		action:   opts.GuardAction,
		history:  NewHistory(opts.HistoryBudgetTokens, opts.KeepRecentExchanges),
		log:      logger,
	}
}

// Ask answers one question. The question and its answer are appended to
// the conversation history, including the noAnswer fallback, so the
// model sees the same transcript the caller saw.
func (e *Engine) Ask(ctx context.Context, question string) (string, error) {
	if e.guard != nil && e.action != GuardOff {
		if matches := e.guard.Scan(question); len(matches) > 0 {
			switch e.action {
			case GuardBlock:
				return "", &GuardedError{Matches: matches}
			case GuardLog:
				e.log.Info("question matched payload-recovery patterns", "matches", matches)
			default:
				e.log.Warn("question matched payload-recovery patterns", "matches", matches)
			}
		}
	}

	vecs, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return "", fmt.Errorf("embed question: %w", err)
	}

	hits, err := e.store.Search(ctx, vecs[0], question, e.k)
	if err != nil {
		return "", fmt.Errorf("search index: %w", err)
	}

	system := e.system
	if len(hits) > 0 {
		parts := make([]string, len(hits))
		for i, h := range hits {
			parts[i] = h.Chunk.Text
		}
		system += "\n\n" + strings.Join(parts, "\n\n")
	}

	window := e.history.Window()
	msgs := make([]providers.Message, 0, 2*len(window)+1)
	for _, ex := range window {
		msgs = append(msgs, providers.Text(providers.RoleUser, ex.Question))
		msgs = append(msgs, providers.Text(providers.RoleAssistant, ex.Answer))
	}
	msgs = append(msgs, providers.Text(providers.RoleUser, question))

	resp, err := e.client.Chat(ctx, providers.ChatRequest{
		Model:       e.model,
		System:      system,
		Messages:    msgs,
		Temperature: providers.Temp(e.temp),
	})
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", e.client.Name(), err)
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		answer = noAnswer
	}
	e.history.Append(question, answer)

	e.log.Debug("question answered",
		"retrieved", len(hits),
		"history", e.history.Len(),
		"model", e.model)
	return answer, nil
}

// History exposes the conversation memory, mainly for tests and the
// session manager's cleanup path.
func (e *Engine) History() *History { return e.history }

// Close releases the underlying index.
func (e *Engine) Close() error { return e.store.Close() }
