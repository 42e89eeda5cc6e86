// Package bootstrap assembles runtime components from configuration:
// the session store backend, the embedding provider, and the LLM
// clients. Commands share these factories so serve and the one-shot
// CLI paths wire identically.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/capclaw/internal/config"
	"github.com/nextlevelbuilder/capclaw/internal/embedding"
	"github.com/nextlevelbuilder/capclaw/internal/providers"
	"github.com/nextlevelbuilder/capclaw/internal/store"
	"github.com/nextlevelbuilder/capclaw/internal/store/file"
	"github.com/nextlevelbuilder/capclaw/internal/store/pg"
	"github.com/nextlevelbuilder/capclaw/internal/store/redis"
)

// OpenSessionStore builds the session store backend named by the
// config. The data dir (session working directories) is created if
// missing and shared by every backend.
func OpenSessionStore(ctx context.Context, cfg *config.Config) (store.SessionStore, error) {
	root := cfg.Store.DataDir
	if root == "" {
		root = filepath.Join(os.TempDir(), "capclaw")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", root, err)
	}

	switch cfg.Store.Backend {
	case "", "memory":
		return store.NewMemoryStore(root), nil

	case "file":
		stateDir := cfg.Store.StateDir
		if stateDir == "" {
			stateDir = filepath.Join(root, "state")
		}
		return file.NewSessionStore(stateDir, root)

	case "redis":
		return redis.NewSessionStore(ctx, redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		}, root)

	case "postgres":
		db, err := pg.OpenDB(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg.NewSessionStore(db, root), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// OpenEmbedder builds the embedding provider, wrapped in the LRU cache
// when one is configured.
func OpenEmbedder(cfg *config.Config) (embedding.Provider, error) {
	var inner embedding.Provider
	switch cfg.Index.Embedding.Provider {
	case "", "local":
		inner = embedding.NewLocal()
	case "openai":
		key := cfg.Providers.OpenAI.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai embeddings: no API key configured")
		}
		inner = embedding.NewOpenAI(key, cfg.Providers.OpenAI.BaseURL, cfg.Index.Embedding.Model)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Index.Embedding.Provider)
	}

	if size := cfg.Index.Embedding.CacheSize; size > 0 {
		cached, err := embedding.NewCached(inner, size)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		return cached, nil
	}
	return inner, nil
}

// BuildClients constructs every LLM client that has a key available.
// Missing keys are reported, not fatal: the capture pipeline runs fully
// offline and only ask/topology need clients.
func BuildClients(cfg *config.Config, logger *slog.Logger) map[string]providers.Client {
	if logger == nil {
		logger = slog.Default()
	}
	clients := make(map[string]providers.Client)

	specs := map[string]providers.ClientConfig{
		"openai": {
			APIKey:            cfg.Providers.OpenAI.APIKey,
			BaseURL:           cfg.Providers.OpenAI.BaseURL,
			RequestsPerMinute: cfg.Providers.RequestsPerMinute,
		},
		"google": {
			APIKey:            cfg.Providers.Google.APIKey,
			BaseURL:           cfg.Providers.Google.BaseURL,
			RequestsPerMinute: cfg.Providers.RequestsPerMinute,
		},
	}
	for name, spec := range specs {
		client, err := providers.New(name, spec)
		if err != nil {
			logger.Info("provider not configured", "provider", name, "reason", err)
			continue
		}
		clients[name] = client
	}
	return clients
}
