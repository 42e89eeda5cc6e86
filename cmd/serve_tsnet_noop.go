//go:build !tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/capclaw/internal/config"
)

// initTailnet is a no-op without the tsnet build tag.
func initTailnet(_ context.Context, cfg *config.Config, _ http.Handler) func() {
	if cfg.Server.TSNet.Enabled {
		slog.Warn("server.tsnet.enabled set but this build has no tsnet support (rebuild with -tags tsnet)")
	}
	return nil
}
