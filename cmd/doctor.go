package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/capclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/capclaw/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, configuration and external tools",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd)
		},
	}
}

func runDoctor(cmd *cobra.Command) {
	fmt.Println("capclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Decoder:")
	argv, err := shellwords.Parse(cfg.Capture.DecoderCommand)
	if err != nil || len(argv) == 0 {
		fmt.Printf("    %s (UNPARSABLE)\n", cfg.Capture.DecoderCommand)
	} else if path, err := exec.LookPath(argv[0]); err != nil {
		fmt.Printf("    %s (NOT FOUND on PATH)\n", argv[0])
	} else {
		fmt.Printf("    %s (%s)\n", argv[0], path)
	}
	fmt.Printf("    timeout: %ds\n", cfg.Capture.TimeoutSeconds)

	fmt.Println()
	fmt.Println("  Providers:")
	checkKey("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkKey("Google", cfg.Providers.Google.APIKey)
	fmt.Printf("    embeddings: %s\n", cfg.Index.Embedding.Provider)

	fmt.Println()
	fmt.Printf("  Store:    %s", cfg.Store.Backend)
	st, err := bootstrap.OpenSessionStore(cmd.Context(), cfg)
	if err != nil {
		fmt.Printf(" (UNREACHABLE: %s)\n", err)
	} else {
		fmt.Println(" (OK)")
		st.Close()
	}

	root := cfg.Store.DataDir
	if root == "" {
		root = filepath.Join(os.TempDir(), "capclaw")
	}
	fmt.Printf("  Workdir:  %s", root)
	if err := checkWritable(root); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
	} else {
		fmt.Println(" (writable)")
	}

	if cfg.Tracing.Enabled {
		fmt.Printf("  Tracing:  %s via %s\n", cfg.Tracing.Endpoint, cfg.Tracing.Protocol)
	}
}

func checkKey(name, key string) {
	if key == "" {
		fmt.Printf("    %s: no key\n", name)
		return
	}
	fmt.Printf("    %s: key set (%d chars)\n", name, len(key))
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor_*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
