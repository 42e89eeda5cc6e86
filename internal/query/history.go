package query

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerTokenEstimate is the fallback when the tiktoken encoding
// cannot be loaded (offline first run).
const charsPerTokenEstimate = 4

var tokenEnc struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// countTokens returns the token count for text using cl100k_base,
// falling back to a chars/4 estimate.
func countTokens(text string) int {
	tokenEnc.once.Do(func() {
		tokenEnc.enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if tokenEnc.enc == nil {
		return len(text) / charsPerTokenEstimate
	}
	return len(tokenEnc.enc.Encode(text, nil, nil))
}

// Exchange is one question/answer pair in an engine's conversation.
type Exchange struct {
	Question string
	Answer   string
}

func (e Exchange) tokens() int {
	// 4 tokens of per-message overhead, two messages per exchange.
	return countTokens(e.Question) + countTokens(e.Answer) + 8
}

// History is the conversation memory for one query engine. The source
// system accumulated it without bound; here old exchanges are dropped
// oldest-first once the token budget is exceeded, but the most recent
// keepRecent exchanges survive regardless of size.
type History struct {
	budget     int
	keepRecent int

	mu        sync.Mutex
	exchanges []Exchange
}

// NewHistory creates a history with the given token budget. Non-positive
// values fall back to the defaults (8000 tokens, keep 3 exchanges).
func NewHistory(budgetTokens, keepRecent int) *History {
	if budgetTokens <= 0 {
		budgetTokens = 8000
	}
	if keepRecent <= 0 {
		keepRecent = 3
	}
	return &History{budget: budgetTokens, keepRecent: keepRecent}
}

// Append records a completed exchange and trims to budget.
func (h *History) Append(question, answer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = append(h.exchanges, Exchange{Question: question, Answer: answer})
	h.trimLocked()
}

// Window returns the exchanges currently inside the budget, oldest
// first. The returned slice is a copy.
func (h *History) Window() []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Exchange, len(h.exchanges))
	copy(out, h.exchanges)
	return out
}

// Len returns the number of retained exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.exchanges)
}

// Clear drops all exchanges.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = nil
}

func (h *History) trimLocked() {
	total := 0
	for _, e := range h.exchanges {
		total += e.tokens()
	}
	// Drop oldest exchanges until inside budget, but never go below
	// the protected recent window.
	for total > h.budget && len(h.exchanges) > h.keepRecent {
		total -= h.exchanges[0].tokens()
		h.exchanges = h.exchanges[1:]
	}
}
