package providers

import (
	"fmt"
	"os"
	"sync"
)

// Builder constructs a client from credentials. The base URL may be
// empty for the hosted default.
type Builder func(apiKey, apiBase string) Client

var (
	builderMu sync.RWMutex
	builders  = map[string]Builder{
		"openai": func(apiKey, apiBase string) Client { return NewOpenAIProvider(apiKey, apiBase) },
		"google": func(apiKey, apiBase string) Client { return NewGoogleProvider(apiKey, apiBase) },
	}
)

// envKeys lists the environment variables consulted, in order, when no
// key is configured for a provider.
var envKeys = map[string][]string{
	"openai": {"OPENAI_API_KEY"},
	"google": {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
}

// Register adds or replaces a client builder. Tests register fakes.
func Register(name string, b Builder) {
	builderMu.Lock()
	defer builderMu.Unlock()
	builders[name] = b
}

// ClientConfig carries per-provider settings for the factory.
type ClientConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerMinute int
}

// New builds the named client. A missing key falls back to the
// provider's environment variables; no key anywhere is an error, so
// callers can treat a built client as usable.
func New(name string, cfg ClientConfig) (Client, error) {
	builderMu.RLock()
	builder, ok := builders[name]
	builderMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}

	key := cfg.APIKey
	if key == "" {
		key = keyFromEnv(name)
	}
	if key == "" {
		return nil, fmt.Errorf("%s: no API key configured", name)
	}

	client := builder(key, cfg.BaseURL)
	if cfg.RequestsPerMinute > 0 {
		if limited, ok := client.(interface{ SetRateLimit(rpm int) }); ok {
			limited.SetRateLimit(cfg.RequestsPerMinute)
		}
	}
	return client, nil
}

func keyFromEnv(name string) string {
	for _, env := range envKeys[name] {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}
