package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/nextlevelbuilder/capclaw/internal/config"
	api "github.com/nextlevelbuilder/capclaw/internal/http"
	"github.com/nextlevelbuilder/capclaw/internal/ingest"
	"github.com/nextlevelbuilder/capclaw/internal/mcp"
	"github.com/nextlevelbuilder/capclaw/internal/prompts"
	"github.com/nextlevelbuilder/capclaw/internal/tools"
	"github.com/nextlevelbuilder/capclaw/internal/tracing"
)

func serveCmd() *cobra.Command {
	var stdio bool
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server and HTTP API",
		Long: `Serve the capture-analysis tools over the Model Context Protocol and
the topology API over HTTP. With --stdio the MCP transport runs on
stdin/stdout for clients that spawn the binary directly; the HTTP API
and ingest watcher are skipped in that mode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(stdio, addr)
		},
	}
	cmd.Flags().BoolVar(&stdio, "stdio", false, "serve MCP over stdin/stdout")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func runServe(stdio bool, addrOverride string) error {
	cfg := loadConfigOrExit()
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	registry := tools.NewRegistry()
	if cfg.Server.ToolRatePerHour > 0 {
		registry.SetRateLimiter(tools.NewToolRateLimiter(cfg.Server.ToolRatePerHour))
	}
	for _, t := range tools.NewCaptureTools(a.manager) {
		registry.Register(t)
	}
	if a.pipeline != nil {
		for _, t := range tools.NewTopologyTools(a.pipeline, cfg.Topology.MaxImageDim) {
			registry.Register(t)
		}
	}

	mcpSrv := mcp.NewServer(registry, Version, logger)
	if stdio {
		logger.Info("serving MCP over stdio", "tools", registry.Count())
		return mcpSrv.ServeStdio()
	}

	if a.lib.OverrideDir() != "" {
		pw, err := prompts.NewWatcher(a.lib)
		if err != nil {
			logger.Warn("prompt watcher unavailable", "error", err)
		} else if err := pw.Start(ctx); err != nil {
			logger.Warn("prompt watcher failed to start", "error", err)
		} else {
			defer pw.Stop()
		}
	}

	if cw, err := config.NewWatcher(resolveConfigPath()); err == nil {
		cw.OnChange(func(next *config.Config) {
			logLevel.Set(parseLogLevel(next.Log.Level))
			if next.Server.Addr != cfg.Server.Addr || next.Server.AuthToken != cfg.Server.AuthToken {
				logger.Warn("server address/auth changed in config; restart required to apply")
			}
		})
		if err := cw.Start(); err != nil {
			logger.Debug("config watcher not started", "error", err)
		} else {
			defer cw.Stop()
		}
	}

	if cfg.Ingest.Enabled {
		iw, err := ingest.NewWatcher(ingest.Options{
			Manager:   a.manager,
			WatchDir:  cfg.Ingest.WatchDir,
			Patterns:  cfg.Ingest.Patterns,
			Stability: time.Duration(cfg.Ingest.StabilitySeconds) * time.Second,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		if err := iw.Start(ctx); err != nil {
			return err
		}
		defer iw.Stop()
	}

	apiSrv := api.NewServer(api.Options{
		Manager:        a.manager,
		Pipeline:       a.pipeline,
		MCP:            mcpSrv.HTTPHandler(cfg.Server.EndpointPath),
		MCPEndpoint:    cfg.Server.EndpointPath,
		AuthToken:      cfg.Server.AuthToken,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateBurst:      cfg.Server.RateBurst,
		MaxUploadBytes: cfg.Capture.MaxUploadBytes,
		MaxImageDim:    cfg.Topology.MaxImageDim,
		Version:        Version,
		Logger:         logger,
	})
	// h2c lets MCP clients stream over HTTP/2 without TLS on the local port.
	handler := h2c.NewHandler(apiSrv.Handler(), &http2.Server{})

	if stopTailnet := initTailnet(ctx, cfg, handler); stopTailnet != nil {
		defer stopTailnet()
	}

	addr := cfg.Server.Addr
	if addrOverride != "" {
		addr = addrOverride
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("capclaw serving",
		"addr", addr,
		"mcp_endpoint", cfg.Server.EndpointPath,
		"tools", registry.Count(),
		"store", cfg.Store.Backend,
		"version", Version,
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
