package tools

import (
	"context"
	"testing"
)

// mockTool is a minimal tool for testing the registry.
type mockTool struct {
	name   string
	execFn func(ctx context.Context, args map[string]interface{}) *Result
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return "mock tool" }
func (m *mockTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (m *mockTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if m.execFn != nil {
		return m.execFn(ctx, args)
	}
	return NewResult("ok")
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	tool := &mockTool{name: "test_tool"}
	reg.Register(tool)

	got, ok := reg.Get("test_tool")
	if !ok {
		t.Fatal("tool not found")
	}
	if got.Name() != "test_tool" {
		t.Errorf("expected test_tool, got %s", got.Name())
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get("nonexistent")
	if ok {
		t.Error("expected tool not found")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockTool{name: "t1"})
	reg.Unregister("t1")
	if _, ok := reg.Get("t1"); ok {
		t.Error("tool should be unregistered")
	}
}

func TestRegistry_Count(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockTool{name: "t1"})
	reg.Register(&mockTool{name: "t2"})
	if reg.Count() != 2 {
		t.Errorf("expected 2, got %d", reg.Count())
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockTool{name: "zeta"})
	reg.Register(&mockTool{name: "alpha"})
	reg.Register(&mockTool{name: "mid"})

	names := make([]string, 0, 3)
	for _, tool := range reg.List() {
		names = append(names, tool.Name())
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("list order: expected %v, got %v", want, names)
		}
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	result := reg.Execute(context.Background(), "missing", nil)
	if !result.IsError {
		t.Error("expected error result for unknown tool")
	}
}

func TestRegistry_ExecuteScrubsCredentials(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockTool{
		name: "leaky_tool",
		execFn: func(ctx context.Context, args map[string]interface{}) *Result {
			return NewResult("key is sk-abcdefghijklmnopqrstuvwxyz1234567890")
		},
	})

	result := reg.Execute(context.Background(), "leaky_tool", nil)

	if result.Text == "key is sk-abcdefghijklmnopqrstuvwxyz1234567890" {
		t.Error("result text should have credentials scrubbed")
	}
}

func TestRegistry_ScrubbingDisabled(t *testing.T) {
	reg := NewRegistry()
	reg.SetScrubbing(false)
	reg.Register(&mockTool{
		name: "leaky_tool",
		execFn: func(ctx context.Context, args map[string]interface{}) *Result {
			return NewResult("key is sk-abcdefghijklmnopqrstuvwxyz1234567890")
		},
	})

	result := reg.Execute(context.Background(), "leaky_tool", nil)

	if result.Text != "key is sk-abcdefghijklmnopqrstuvwxyz1234567890" {
		t.Error("scrubbing disabled, text should pass through unchanged")
	}
}

func TestRegistry_ExecuteForSession_RateLimiting(t *testing.T) {
	reg := NewRegistry()
	reg.SetRateLimiter(NewToolRateLimiter(2))
	reg.Register(&mockTool{name: "rl_tool"})

	// First 2 calls allowed
	for i := 0; i < 2; i++ {
		result := reg.ExecuteForSession(context.Background(), "rl_tool", "session-1", nil)
		if result.IsError {
			t.Errorf("call %d should succeed: %s", i, result.Text)
		}
	}

	// 3rd call blocked
	result := reg.ExecuteForSession(context.Background(), "rl_tool", "session-1", nil)
	if !result.IsError {
		t.Error("3rd call should be rate-limited")
	}

	// Different session key allowed
	result = reg.ExecuteForSession(context.Background(), "rl_tool", "session-2", nil)
	if result.IsError {
		t.Error("different session should be allowed")
	}
}

func TestRegistry_NoRateLimitWithoutSessionKey(t *testing.T) {
	reg := NewRegistry()
	reg.SetRateLimiter(NewToolRateLimiter(1))
	reg.Register(&mockTool{name: "tool"})

	// Without a session key, rate limiting is skipped
	for i := 0; i < 5; i++ {
		result := reg.ExecuteForSession(context.Background(), "tool", "", nil)
		if result.IsError {
			t.Errorf("call %d should succeed (no session key): %s", i, result.Text)
		}
	}
}
