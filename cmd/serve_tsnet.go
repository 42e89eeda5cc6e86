//go:build tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/capclaw/internal/config"
)

// initTailnet starts an additional Tailscale listener sharing the main
// handler, so the MCP endpoint and topology API are reachable on the
// tailnet without exposing the plain TCP port. Only compiled with
// -tags tsnet.
func initTailnet(ctx context.Context, cfg *config.Config, handler http.Handler) func() {
	tc := cfg.Server.TSNet
	if !tc.Enabled {
		slog.Debug("tsnet available but not enabled (set server.tsnet.enabled)")
		return nil
	}

	srv := &tsnet.Server{
		Hostname: tc.Hostname,
		AuthKey:  tc.AuthKey,
	}
	if tc.StateDir != "" {
		srv.Dir = tc.StateDir
	}

	ln, err := srv.Listen("tcp", ":80")
	if err != nil {
		slog.Warn("tailnet listener failed to start", "error", err)
		srv.Close()
		return nil
	}
	slog.Info("tailnet listener started", "hostname", tc.Hostname)

	httpSrv := &http.Server{Handler: handler}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("tailnet HTTP server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	return func() {
		httpSrv.Close()
		ln.Close()
		srv.Close()
		slog.Info("tailnet listener stopped")
	}
}
