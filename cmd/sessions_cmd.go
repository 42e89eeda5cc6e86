package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/capclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/capclaw/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "View and manage capture sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsCleanupCmd())
	return cmd
}

func openStoreOrExit(ctx context.Context) store.SessionStore {
	cfg := loadConfigOrExit()
	st, err := bootstrap.OpenSessionStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %s\n", err)
		os.Exit(1)
	}
	return st
}

func sessionsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			st := openStoreOrExit(ctx)
			defer st.Close()

			sessions, err := st.List(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if jsonOutput {
				data, _ := json.MarshalIndent(sessions, "", "  ")
				fmt.Println(string(data))
				return
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tFRAMES\tCHUNKS\tCREATED\tDIR")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
					s.ID, s.State, s.FrameCount, s.ChunkCount,
					s.CreatedAt.Format("2006-01-02 15:04"),
					runewidth.Truncate(s.Dir, 48, "…"),
				)
			}
			w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sessionsShowCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show one session record",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			st := openStoreOrExit(ctx)
			defer st.Close()

			s, err := st.Get(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if jsonOutput {
				data, _ := json.MarshalIndent(s, "", "  ")
				fmt.Println(string(data))
				return
			}
			fmt.Printf("ID:       %s\n", s.ID)
			fmt.Printf("State:    %s\n", s.State)
			fmt.Printf("Dir:      %s\n", s.Dir)
			if s.PCAPPath != "" {
				fmt.Printf("Capture:  %s\n", s.PCAPPath)
			}
			if s.JSONPath != "" {
				fmt.Printf("Decoded:  %s\n", s.JSONPath)
			}
			if s.FrameCount > 0 {
				fmt.Printf("Frames:   %d\n", s.FrameCount)
				fmt.Printf("Chunks:   %d\n", s.ChunkCount)
			}
			if s.Priming != "" {
				fmt.Printf("Priming:  %s\n", runewidth.Truncate(s.Priming, 120, "…"))
			}
			fmt.Printf("Created:  %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Updated:  %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sessionsCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup [session-id]",
		Short: "Destroy a session and delete its working directory",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			st := openStoreOrExit(ctx)
			defer st.Close()

			if err := st.Destroy(ctx, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Println("ok")
		},
	}
}
