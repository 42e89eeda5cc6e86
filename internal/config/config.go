// Package config loads and validates capclaw configuration.
// Config files are JSON5 (comments and trailing commas allowed) and are
// searched in standard locations; environment variables override file
// values for the settings operators most often tune per deployment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/capclaw/internal/crypto"
)

const keyringService = "capclaw"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Capture   CaptureConfig   `json:"capture"`
	Index     IndexConfig     `json:"index"`
	Providers ProvidersConfig `json:"providers"`
	Ask       AskConfig       `json:"ask"`
	Prompts   PromptsConfig   `json:"prompts"`
	Topology  TopologyConfig  `json:"topology"`
	Ingest    IngestConfig    `json:"ingest"`
	Tracing   TracingConfig   `json:"tracing"`
	Log       LogConfig       `json:"log"`
}

// ServerConfig controls the MCP/HTTP listener.
type ServerConfig struct {
	Addr         string      `json:"addr"`          // default ":8000"
	EndpointPath string      `json:"endpoint_path"` // default "/mcp"
	AuthToken    string      `json:"auth_token"`    // empty disables auth
	RateLimitRPS float64     `json:"rate_limit_rps"`
	RateBurst    int         `json:"rate_burst"`

	// ToolRatePerHour caps tool calls per session per hour. 0 disables.
	ToolRatePerHour int         `json:"tool_rate_per_hour"`
	TSNet           TSNetConfig `json:"tsnet"`
}

// TSNetConfig exposes the server on a tailnet instead of a plain TCP port.
type TSNetConfig struct {
	Enabled  bool   `json:"enabled"`
	Hostname string `json:"hostname"`
	StateDir string `json:"state_dir"`
	AuthKey  string `json:"auth_key"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend     string      `json:"backend"`  // memory | file | redis | postgres
	DataDir     string      `json:"data_dir"` // workdir root; empty means os.TempDir
	StateDir    string      `json:"state_dir"`
	Redis       RedisConfig `json:"redis"`
	PostgresDSN string      `json:"postgres_dsn"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// CaptureConfig controls decoding and payload scrubbing.
type CaptureConfig struct {
	DecoderCommand string   `json:"decoder_command"` // default "tshark -n -l"
	TimeoutSeconds int      `json:"timeout_seconds"` // default 120
	ScrubFields    []string `json:"scrub_fields"`    // extra fields on top of the defaults
	RedactionRules []string `json:"redaction_rules"` // CEL expressions over (layer, field)
	EncryptAtRest  bool     `json:"encrypt_at_rest"`
	EncryptionKey  string   `json:"encryption_key"`
	MaxUploadBytes int64    `json:"max_upload_bytes"` // default 512 MiB
}

// IndexConfig controls chunking, embeddings and retrieval.
type IndexConfig struct {
	Embedding            EmbeddingConfig `json:"embedding"`
	BreakpointPercentile float64         `json:"breakpoint_percentile"` // default 95
	RetrievalK           int             `json:"retrieval_k"`           // default 50
	PrimingUnits         int             `json:"priming_units"`         // default 5
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // local | openai
	Model     string `json:"model"`    // default "text-embedding-3-small"
	CacheSize int    `json:"cache_size"`
}

// ProvidersConfig holds LLM provider credentials and model selection.
type ProvidersConfig struct {
	OpenAI            OpenAIConfig `json:"openai"`
	Google            GoogleConfig `json:"google"`
	RequestsPerMinute int          `json:"requests_per_minute"`
	TimeoutSeconds    int          `json:"timeout_seconds"`
}

type OpenAIConfig struct {
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url"`
	ReviewModel string `json:"review_model"` // default "gpt-4o"
	VisionModel string `json:"vision_model"` // default "gpt-4.1-mini"
}

type GoogleConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"` // default "gemini-2.5-pro"
}

// AskConfig controls the capture question-answering flow.
type AskConfig struct {
	Provider            string  `json:"provider"`              // google | openai
	Temperature         float64 `json:"temperature"`           // default 0.6
	HistoryBudgetTokens int     `json:"history_budget_tokens"` // default 8000
	KeepRecentExchanges int     `json:"keep_recent_exchanges"` // default 3
	GuardAction         string  `json:"guard_action"`          // off | log | warn | block
}

// PromptsConfig points at an optional prompt-template override directory.
type PromptsConfig struct {
	Dir string `json:"dir"`
}

// TopologyConfig controls the diagram-to-config pipeline.
type TopologyConfig struct {
	MaxImageDim int    `json:"max_image_dim"` // default 768
	OutputDir   string `json:"output_dir"`
}

// IngestConfig watches a directory for capture files to auto-upload.
type IngestConfig struct {
	Enabled          bool     `json:"enabled"`
	WatchDir         string   `json:"watch_dir"`
	Patterns         []string `json:"patterns"` // default *.pcap, *.pcapng, *.cap
	StabilitySeconds int      `json:"stability_seconds"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	Protocol    string  `json:"protocol"` // grpc | http
	Insecure    bool    `json:"insecure"` // skip TLS for local collectors
	ServiceName string  `json:"service_name"`
	SampleRatio float64 `json:"sample_ratio"`
}

type LogConfig struct {
	Level  string `json:"level"`  // debug | info | warn | error
	Format string `json:"format"` // text | json
}

// DefaultPath returns the config file path: $CAPCLAW_CONFIG if set,
// otherwise ~/.capclaw/config.json5.
func DefaultPath() string {
	if p := os.Getenv("CAPCLAW_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "capclaw.json5"
	}
	return filepath.Join(home, ".capclaw", "config.json5")
}

// Load reads the config file at path, applies defaults, environment
// overrides and secret resolution. A missing file is not an error; the
// defaults apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.EndpointPath == "" {
		c.Server.EndpointPath = "/mcp"
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 10
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}
	if c.Server.TSNet.Hostname == "" {
		c.Server.TSNet.Hostname = "capclaw"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Store.StateDir = filepath.Join(home, ".capclaw", "sessions")
		}
	}

	if c.Capture.DecoderCommand == "" {
		c.Capture.DecoderCommand = "tshark -n -l"
	}
	if c.Capture.TimeoutSeconds == 0 {
		c.Capture.TimeoutSeconds = 120
	}
	if c.Capture.MaxUploadBytes == 0 {
		c.Capture.MaxUploadBytes = 512 << 20
	}

	if c.Index.Embedding.Provider == "" {
		c.Index.Embedding.Provider = "local"
	}
	if c.Index.Embedding.Model == "" {
		c.Index.Embedding.Model = "text-embedding-3-small"
	}
	if c.Index.Embedding.CacheSize == 0 {
		c.Index.Embedding.CacheSize = 2048
	}
	if c.Index.BreakpointPercentile == 0 {
		c.Index.BreakpointPercentile = 95
	}
	if c.Index.RetrievalK == 0 {
		c.Index.RetrievalK = 50
	}
	if c.Index.PrimingUnits == 0 {
		c.Index.PrimingUnits = 5
	}

	if c.Providers.OpenAI.ReviewModel == "" {
		c.Providers.OpenAI.ReviewModel = "gpt-4o"
	}
	if c.Providers.OpenAI.VisionModel == "" {
		c.Providers.OpenAI.VisionModel = "gpt-4.1-mini"
	}
	if c.Providers.Google.Model == "" {
		c.Providers.Google.Model = "gemini-2.5-pro"
	}
	if c.Providers.RequestsPerMinute == 0 {
		c.Providers.RequestsPerMinute = 60
	}
	if c.Providers.TimeoutSeconds == 0 {
		c.Providers.TimeoutSeconds = 300
	}

	if c.Ask.Provider == "" {
		c.Ask.Provider = "google"
	}
	if c.Ask.Temperature == 0 {
		c.Ask.Temperature = 0.6
	}
	if c.Ask.HistoryBudgetTokens == 0 {
		c.Ask.HistoryBudgetTokens = 8000
	}
	if c.Ask.KeepRecentExchanges == 0 {
		c.Ask.KeepRecentExchanges = 3
	}
	if c.Ask.GuardAction == "" {
		c.Ask.GuardAction = "warn"
	}

	if c.Topology.MaxImageDim == 0 {
		c.Topology.MaxImageDim = 768
	}

	if len(c.Ingest.Patterns) == 0 {
		c.Ingest.Patterns = []string{"*.pcap", "*.pcapng", "*.cap"}
	}
	if c.Ingest.StabilitySeconds == 0 {
		c.Ingest.StabilitySeconds = 2
	}

	if c.Tracing.Protocol == "" {
		c.Tracing.Protocol = "grpc"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "capclaw"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CAPCLAW_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CAPCLAW_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("CAPCLAW_STORE"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("CAPCLAW_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("CAPCLAW_REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("CAPCLAW_POSTGRES_DSN"); v != "" {
		c.Store.PostgresDSN = v
	}
	if v := os.Getenv("CAPCLAW_DECODER"); v != "" {
		c.Capture.DecoderCommand = v
	}
	if v := os.Getenv("CAPCLAW_DECODE_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Capture.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("CAPCLAW_ENCRYPTION_KEY"); v != "" {
		c.Capture.EncryptionKey = v
		c.Capture.EncryptAtRest = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Providers.Google.APIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Providers.Google.APIKey = v
	}
	if v := os.Getenv("CAPCLAW_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = true
	}
	if v := os.Getenv("CAPCLAW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// resolveSecrets decrypts encrypted values and falls back to the OS
// keyring for provider keys that are still empty. Keyring misses are
// not errors.
func (c *Config) resolveSecrets() error {
	key := c.Capture.EncryptionKey
	for _, p := range []*string{
		&c.Providers.OpenAI.APIKey,
		&c.Providers.Google.APIKey,
		&c.Server.AuthToken,
	} {
		if crypto.IsEncrypted(*p) {
			dec, err := crypto.Decrypt(*p, key)
			if err != nil {
				return fmt.Errorf("decrypt config secret: %w", err)
			}
			*p = dec
		}
	}

	if c.Providers.OpenAI.APIKey == "" {
		if v, err := keyring.Get(keyringService, "openai_api_key"); err == nil {
			c.Providers.OpenAI.APIKey = v
		}
	}
	if c.Providers.Google.APIKey == "" {
		if v, err := keyring.Get(keyringService, "google_api_key"); err == nil {
			c.Providers.Google.APIKey = v
		}
	}
	return nil
}

// StoreKeyringSecret writes a provider key to the OS keyring so it can
// be kept out of config files.
func StoreKeyringSecret(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// Validate checks settings that would otherwise fail deep inside a
// session operation.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "file", "redis", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("store backend redis requires redis.addr")
	}
	if c.Store.Backend == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store backend postgres requires postgres_dsn")
	}
	if strings.TrimSpace(c.Capture.DecoderCommand) == "" {
		return fmt.Errorf("capture.decoder_command must not be empty")
	}
	if p := c.Index.BreakpointPercentile; p <= 0 || p > 100 {
		return fmt.Errorf("index.breakpoint_percentile must be in (0, 100], got %v", p)
	}
	switch c.Index.Embedding.Provider {
	case "local", "openai":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Index.Embedding.Provider)
	}
	switch c.Ask.Provider {
	case "google", "openai":
	default:
		return fmt.Errorf("unknown ask provider %q", c.Ask.Provider)
	}
	switch c.Ask.GuardAction {
	case "off", "log", "warn", "block":
	default:
		return fmt.Errorf("unknown ask guard action %q", c.Ask.GuardAction)
	}
	if c.Capture.EncryptAtRest && c.Capture.EncryptionKey == "" {
		return fmt.Errorf("capture.encrypt_at_rest requires capture.encryption_key")
	}
	if c.Capture.EncryptionKey != "" {
		if _, err := crypto.DeriveKey(c.Capture.EncryptionKey); err != nil {
			return fmt.Errorf("capture.encryption_key: %w", err)
		}
	}
	switch c.Tracing.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown tracing protocol %q", c.Tracing.Protocol)
	}
	return nil
}
