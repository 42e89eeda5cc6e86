package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("addr = %q, want :8000", cfg.Server.Addr)
	}
	if cfg.Server.EndpointPath != "/mcp" {
		t.Errorf("endpoint = %q, want /mcp", cfg.Server.EndpointPath)
	}
	if cfg.Capture.DecoderCommand != "tshark -n -l" {
		t.Errorf("decoder = %q", cfg.Capture.DecoderCommand)
	}
	if cfg.Capture.TimeoutSeconds != 120 {
		t.Errorf("timeout = %d, want 120", cfg.Capture.TimeoutSeconds)
	}
	if cfg.Index.BreakpointPercentile != 95 {
		t.Errorf("percentile = %v, want 95", cfg.Index.BreakpointPercentile)
	}
	if cfg.Index.RetrievalK != 50 {
		t.Errorf("k = %d, want 50", cfg.Index.RetrievalK)
	}
	if cfg.Providers.Google.Model != "gemini-2.5-pro" {
		t.Errorf("google model = %q", cfg.Providers.Google.Model)
	}
	if cfg.Topology.MaxImageDim != 768 {
		t.Errorf("max image dim = %d, want 768", cfg.Topology.MaxImageDim)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, `{
	  // comments are fine
	  server: { addr: ":9000" },
	  capture: {
	    decoder_command: "tshark -n -l -2",
	    timeout_seconds: 30, // trailing comma next
	  },
	  store: { backend: "file" },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Capture.DecoderCommand != "tshark -n -l -2" {
		t.Errorf("decoder = %q", cfg.Capture.DecoderCommand)
	}
	if cfg.Capture.TimeoutSeconds != 30 {
		t.Errorf("timeout = %d, want 30", cfg.Capture.TimeoutSeconds)
	}
	if cfg.Store.Backend != "file" {
		t.Errorf("backend = %q, want file", cfg.Store.Backend)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CAPCLAW_ADDR", ":7777")
	t.Setenv("CAPCLAW_DECODER", "tcpdump -nn")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("addr = %q, want :7777", cfg.Server.Addr)
	}
	if cfg.Capture.DecoderCommand != "tcpdump -nn" {
		t.Errorf("decoder = %q", cfg.Capture.DecoderCommand)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-test" {
		t.Errorf("openai key = %q", cfg.Providers.OpenAI.APIKey)
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	path := writeConfig(t, `{ store: { backend: "etcd" } }`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestValidateRejectsRedisWithoutAddr(t *testing.T) {
	path := writeConfig(t, `{ store: { backend: "redis" } }`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for redis without addr")
	}
}

func TestValidateRejectsBadPercentile(t *testing.T) {
	path := writeConfig(t, `{ index: { breakpoint_percentile: 150 } }`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for percentile > 100")
	}
}

func TestValidateRejectsEncryptWithoutKey(t *testing.T) {
	path := writeConfig(t, `{ capture: { encrypt_at_rest: true } }`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for encrypt_at_rest without key")
	}
}
