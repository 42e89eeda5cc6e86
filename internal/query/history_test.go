package query

import (
	"strings"
	"testing"
)

func TestHistory_AppendAndWindow(t *testing.T) {
	h := NewHistory(8000, 3)
	h.Append("q1", "a1")
	h.Append("q2", "a2")

	w := h.Window()
	if len(w) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(w))
	}
	if w[0].Question != "q1" || w[1].Answer != "a2" {
		t.Errorf("unexpected window order: %+v", w)
	}
}

func TestHistory_TrimsOldestFirst(t *testing.T) {
	// Each exchange is ~200 chars ≈ 50+ tokens; a 200-token budget holds
	// only the last few.
	h := NewHistory(200, 1)
	long := strings.Repeat("word ", 40)
	for i := 0; i < 10; i++ {
		h.Append(long, long)
	}
	if h.Len() >= 10 {
		t.Fatalf("expected trimming, still have %d exchanges", h.Len())
	}
	w := h.Window()
	if w[len(w)-1].Question != long {
		t.Error("most recent exchange must survive trimming")
	}
}

func TestHistory_KeepsRecentOverBudget(t *testing.T) {
	h := NewHistory(1, 3)
	big := strings.Repeat("x", 4000)
	for i := 0; i < 6; i++ {
		h.Append(big, big)
	}
	if h.Len() != 3 {
		t.Errorf("expected the protected recent window of 3, got %d", h.Len())
	}
}

func TestHistory_Defaults(t *testing.T) {
	h := NewHistory(0, 0)
	if h.budget != 8000 {
		t.Errorf("expected default budget 8000, got %d", h.budget)
	}
	if h.keepRecent != 3 {
		t.Errorf("expected default keepRecent 3, got %d", h.keepRecent)
	}
}

func TestHistory_WindowIsACopy(t *testing.T) {
	h := NewHistory(8000, 3)
	h.Append("q", "a")
	w := h.Window()
	w[0].Question = "mutated"
	if h.Window()[0].Question != "q" {
		t.Error("Window must return a copy")
	}
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory(8000, 3)
	h.Append("q", "a")
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("expected empty history after Clear, got %d", h.Len())
	}
}

func TestCountTokens_NonZero(t *testing.T) {
	n := countTokens("how many DNS queries are in the capture?")
	if n <= 0 {
		t.Errorf("expected positive token count, got %d", n)
	}
}
