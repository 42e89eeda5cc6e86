package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nextlevelbuilder/capclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/capclaw/internal/capture"
	"github.com/nextlevelbuilder/capclaw/internal/config"
	"github.com/nextlevelbuilder/capclaw/internal/prompts"
	"github.com/nextlevelbuilder/capclaw/internal/providers"
	"github.com/nextlevelbuilder/capclaw/internal/session"
	"github.com/nextlevelbuilder/capclaw/internal/topology"
)

func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	return config.DefaultPath()
}

func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// logLevel backs the running logger so a config reload can adjust
// verbosity without a restart.
var logLevel slog.LevelVar

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	logLevel.Set(parseLogLevel(cfg.Log.Level))
	opts := &slog.HandlerOptions{Level: &logLevel}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func buildDecoder(cfg *config.Config) (*capture.Decoder, error) {
	rules, err := capture.CompileRules(cfg.Capture.RedactionRules)
	if err != nil {
		return nil, fmt.Errorf("redaction rules: %w", err)
	}
	scrub := capture.NewScrubber(cfg.Capture.ScrubFields, rules)

	opts := []capture.DecoderOption{
		capture.WithTimeout(time.Duration(cfg.Capture.TimeoutSeconds) * time.Second),
	}
	if cfg.Capture.EncryptAtRest {
		opts = append(opts, capture.WithEncryptionKey(cfg.Capture.EncryptionKey))
	}
	return capture.NewDecoder(cfg.Capture.DecoderCommand, scrub, opts...)
}

// app holds the wired runtime shared by serve and the one-shot commands.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	manager *session.Manager
	lib     *prompts.Library
	clients map[string]providers.Client

	// pipeline is nil unless both vision providers have keys.
	pipeline *topology.Pipeline
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := bootstrap.OpenSessionStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	embedder, err := bootstrap.OpenEmbedder(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	decoder, err := buildDecoder(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	lib := prompts.NewLibrary(cfg.Prompts.Dir)
	clients := bootstrap.BuildClients(cfg, logger)

	askModel := cfg.Providers.Google.Model
	if cfg.Ask.Provider == "openai" {
		askModel = cfg.Providers.OpenAI.ReviewModel
	}

	manager := session.NewManager(session.Options{
		Store:    st,
		Decoder:  decoder,
		Embedder: embedder,
		Prompts:  lib,
		Clients:  clients,

		AskProvider:         cfg.Ask.Provider,
		AskModel:            askModel,
		AskTemperature:      cfg.Ask.Temperature,
		HistoryBudgetTokens: cfg.Ask.HistoryBudgetTokens,
		KeepRecentExchanges: cfg.Ask.KeepRecentExchanges,
		GuardAction:         cfg.Ask.GuardAction,

		RetrievalK:           cfg.Index.RetrievalK,
		BreakpointPercentile: cfg.Index.BreakpointPercentile,
		PrimingUnits:         cfg.Index.PrimingUnits,
		EncryptionKey:        cfg.Capture.EncryptionKey,
		MaxUploadBytes:       cfg.Capture.MaxUploadBytes,

		Logger: logger,
	})

	a := &app{
		cfg:     cfg,
		log:     logger,
		manager: manager,
		lib:     lib,
		clients: clients,
	}

	openaiClient, hasOpenAI := clients["openai"]
	googleClient, hasGoogle := clients["google"]
	if hasOpenAI && hasGoogle {
		a.pipeline = topology.NewPipeline(topology.PipelineOptions{
			OpenAI:            openaiClient,
			Google:            googleClient,
			Prompts:           lib,
			OpenAIVisionModel: cfg.Providers.OpenAI.VisionModel,
			OpenAIReviewModel: cfg.Providers.OpenAI.ReviewModel,
			GoogleModel:       cfg.Providers.Google.Model,
			Logger:            logger,
		})
	} else {
		logger.Info("topology pipeline disabled: needs both openai and google keys")
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.manager.Close(); err != nil {
		a.log.Warn("manager close", "error", err)
	}
}
