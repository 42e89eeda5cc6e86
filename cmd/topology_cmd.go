package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/capclaw/internal/topology"
)

func topologyCmd() *cobra.Command {
	var (
		imagePath string
		goal      string
		outPath   string
		explain   bool
	)
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Generate a device configuration from a topology diagram",
		Long: `Run the staged diagram-to-config pipeline once: both vision models
draft a configuration from the image, each audits the other's draft,
and a final synthesis merges them. Requires OpenAI and Google keys.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := loadConfigOrExit()
			logger := setupLogger(cfg)

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.pipeline == nil {
				return fmt.Errorf("topology pipeline needs both OPENAI_API_KEY and GOOGLE_API_KEY")
			}

			raw, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			diagram, err := topology.LoadDiagram(raw, cfg.Topology.MaxImageDim)
			if err != nil {
				return fmt.Errorf("load image: %w", err)
			}

			pipe := a.pipeline.WithSink(func(ev topology.StageEvent) {
				if ev.Status == topology.StatusStarted {
					fmt.Fprintf(os.Stderr, "… %s\n", ev.Stage)
				} else {
					fmt.Fprintf(os.Stderr, "  %s: %s\n", ev.Stage, ev.Status)
				}
			})
			res, err := pipe.Generate(ctx, diagram, goal)
			if err != nil {
				return err
			}

			out := outPath
			if out == "" {
				out = filepath.Join(cfg.Topology.OutputDir, topology.ConfigFilename)
			}
			if err := os.WriteFile(out, []byte(res.Final), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("wrote %s\n", out)

			if explain {
				text, err := pipe.Explain(ctx, res.Final)
				if err != nil {
					return fmt.Errorf("explain: %w", err)
				}
				fmt.Println()
				fmt.Println(text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "topology diagram image (png/jpeg/gif/webp)")
	cmd.Flags().StringVar(&goal, "goal", "", "what the generated configuration should achieve")
	cmd.Flags().StringVar(&outPath, "out", "", "output file (default "+topology.ConfigFilename+")")
	cmd.Flags().BoolVar(&explain, "explain", false, "also print a line-by-line explanation")
	cmd.MarkFlagRequired("image")
	cmd.MarkFlagRequired("goal")
	return cmd
}
