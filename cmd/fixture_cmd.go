package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/capclaw/internal/fixture"
)

func fixtureCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "fixture",
		Short: "Write a small synthetic capture for smoke-testing the pipeline",
		Long: `Write a three-frame capture: a TCP SYN, a TCP data frame carrying a
payload, and a DNS query. Decoding it exercises the payload scrub and
indexing it yields exactly three source records.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fixture.WriteFile(outPath); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d frames)\n", outPath, fixture.FrameCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "fixture.pcap", "output capture path")
	return cmd
}
