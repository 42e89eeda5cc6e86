package tools

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry manages tool registration and execution.
type Registry struct {
	tools       map[string]Tool
	mu          sync.RWMutex
	rateLimiter *ToolRateLimiter // nil = no rate limiting
	scrubbing   bool             // scrub credentials from output (default true)
}

func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		scrubbing: true, // enabled by default
	}
}

// SetRateLimiter enables per-session tool rate limiting.
func (r *Registry) SetRateLimiter(rl *ToolRateLimiter) {
	r.rateLimiter = rl
}

// SetScrubbing enables or disables credential scrubbing on tool output.
func (r *Registry) SetScrubbing(enabled bool) {
	r.scrubbing = enabled
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Execute runs a tool by name with the given arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	return r.ExecuteForSession(ctx, name, "", args)
}

// ExecuteForSession runs a tool, applying the per-session rate limit
// when sessionKey is non-empty. Capture tools pass their session_id;
// topology tools pass the caller identity the transport derived.
func (r *Registry) ExecuteForSession(ctx context.Context, name, sessionKey string, args map[string]interface{}) *Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return ErrorResult("unknown tool: " + name)
	}

	if r.rateLimiter != nil && sessionKey != "" {
		if err := r.rateLimiter.Allow(sessionKey); err != nil {
			return ErrorResult(err.Error())
		}
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	duration := time.Since(start)

	// Scrub credentials before the text leaves the server: decoded
	// captures and model answers can both echo secrets.
	if r.scrubbing && result.Text != "" {
		result.Text = ScrubCredentials(result.Text)
	}

	slog.Debug("tool executed",
		"tool", name,
		"duration_ms", duration.Milliseconds(),
		"is_error", result.IsError,
	)
	return result
}

// List returns all registered tools, sorted by name for stable listings.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
