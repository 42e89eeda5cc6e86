package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/capclaw/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configSetKeyCmd())
	return cmd
}

const configTemplate = `// capclaw configuration. All keys are optional; the values shown are
// the defaults. JSON5: comments and trailing commas are allowed.
{
  server: {
    addr: ":8000",
    endpoint_path: "/mcp",
    // auth_token: "",            // empty disables bearer auth
  },
  store: {
    backend: "memory",            // memory | file | redis | postgres
    // data_dir: "",              // session working dirs; empty = system temp
  },
  capture: {
    decoder_command: "tshark -n -l",
    timeout_seconds: 120,
    // redaction_rules: [],       // extra CEL rules, e.g. 'layer == "http" && field.endsWith(".file_data")'
  },
  index: {
    embedding: { provider: "local" },  // local | openai
    retrieval_k: 50,
  },
  ask: {
    provider: "google",
    temperature: 0.6,
  },
}
`

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration (secrets redacted)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			data, _ := json.MarshalIndent(redactConfig(cfg), "", "  ")
			fmt.Println(string(data))
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}

func configSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key [openai|google] [api-key]",
		Short: "Store a provider API key in the OS keyring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			switch args[0] {
			case "openai":
				name = "openai_api_key"
			case "google":
				name = "google_api_key"
			default:
				return fmt.Errorf("unknown provider %q (want openai or google)", args[0])
			}
			if err := config.StoreKeyringSecret(name, args[1]); err != nil {
				return fmt.Errorf("keyring: %w", err)
			}
			fmt.Printf("stored %s in the OS keyring\n", name)
			return nil
		},
	}
}

func redactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.Server.AuthToken = redact(cfg.Server.AuthToken)
	out.Server.TSNet.AuthKey = redact(cfg.Server.TSNet.AuthKey)
	out.Store.Redis.Password = redact(cfg.Store.Redis.Password)
	out.Store.PostgresDSN = redact(cfg.Store.PostgresDSN)
	out.Capture.EncryptionKey = redact(cfg.Capture.EncryptionKey)
	out.Providers.OpenAI.APIKey = redact(cfg.Providers.OpenAI.APIKey)
	out.Providers.Google.APIKey = redact(cfg.Providers.Google.APIKey)
	return &out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}
