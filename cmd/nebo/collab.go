package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neboloop/nebo/internal/collab/consensus"
	"github.com/neboloop/nebo/internal/collab/hubconfig"
	"github.com/neboloop/nebo/internal/collab/routing"
	"github.com/neboloop/nebo/internal/collab/session"
	"github.com/neboloop/nebo/internal/sync/offline"
)

// CollabCmd exposes session, consensus, routing, and offline sync
// operations for manual exercising outside the web UI.
func CollabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collab",
		Short: "Inspect and exercise multi-agent collaboration sessions",
	}

	cmd.AddCommand(collabSessionCmd())
	cmd.AddCommand(collabRouteCmd())
	cmd.AddCommand(collabVoteCmd())
	cmd.AddCommand(collabSyncCmd())
	cmd.AddCommand(collabConfigCmd())

	return cmd
}

// hubConfigPath returns ~/.nebo/collab/hub.yaml, falling back to a
// relative path if the home directory can't be resolved.
func hubConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nebo/collab/hub.yaml"
	}
	return filepath.Join(home, ".nebo", "collab", "hub.yaml")
}

func collabStorageDir() string {
	hub, err := hubconfig.Load(hubConfigPath())
	if err != nil {
		hub = hubconfig.DefaultConfig()
	}
	return hub.StorageRoot
}

func collabConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the hub's effective configuration (hub.yaml, falling back to defaults)",
		Run: func(cmd *cobra.Command, args []string) {
			hub, err := hubconfig.Load(hubConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "error loading hub config: %v\n", err)
				os.Exit(1)
			}
			data, _ := json.MarshalIndent(hub, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func collabSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage collaboration sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every session in the directory",
		Run: func(cmd *cobra.Command, args []string) {
			mgr := session.NewManager(0, collabStorageDir())
			if err := mgr.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "error loading sessions: %v\n", err)
				os.Exit(1)
			}
			for _, s := range mgr.List() {
				fmt.Printf("%s\t%-12s\t%s\n", s.ID, s.State(), s.Name)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create [name] [host-provider] [host-model]",
		Short: "Create a new session with a single host participant",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			mgr := session.NewManager(0, collabStorageDir())
			if err := mgr.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "error loading sessions: %v\n", err)
				os.Exit(1)
			}
			host := session.NewAgentInfo(args[1], args[2])
			s, err := mgr.Create(args[0], session.DefaultConfig(), host)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(s.ID)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [session-id]",
		Short: "Print a session's full state as JSON",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr := session.NewManager(0, collabStorageDir())
			if err := mgr.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "error loading sessions: %v\n", err)
				os.Exit(1)
			}
			s, ok := mgr.Get(args[0])
			if !ok {
				fmt.Fprintf(os.Stderr, "no such session: %s\n", args[0])
				os.Exit(1)
			}
			data, _ := json.MarshalIndent(s, "", "  ")
			fmt.Println(string(data))
		},
	})

	return cmd
}

func collabRouteCmd() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "route [task description]",
		Short: "Detect a task's domain and print the keyword match",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			text := args[0]
			for _, a := range args[1:] {
				text += " " + a
			}
			domain := routing.FromKeywords(text)
			fmt.Printf("domain: %s\n", domain)
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "best_match", "selection strategy (unused without a live registry)")
	return cmd
}

func collabVoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vote-demo",
		Short: "Run a toy majority vote over three fixed participants",
		Run: func(cmd *cobra.Command, args []string) {
			p := consensus.New("demo", "sess", "host", "quick check", "", consensus.Majority,
				[]string{"a", "b", "c"}, nil)
			if err := p.StartVoting(); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			p.CastVote(consensus.Vote{VoterID: "a", Choice: consensus.Approve, Weight: 1})
			p.CastVote(consensus.Vote{VoterID: "b", Choice: consensus.Approve, Weight: 1})
			p.CastVote(consensus.Vote{VoterID: "c", Choice: consensus.Reject, Weight: 1})

			result := p.CalculateResult()
			fmt.Printf("approved=%v ratio=%.2f\n", result.Approved, result.ApprovalRatio)
		},
	}
	return cmd
}

func collabSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect the local offline sync queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current sync status",
		Run: func(cmd *cobra.Command, args []string) {
			s := offline.New("", collabStorageDir(), 30)
			if err := s.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "error loading offline state: %v\n", err)
				os.Exit(1)
			}
			data, _ := json.MarshalIndent(s.SyncStatus(), "", "  ")
			fmt.Println(string(data))
		},
	})

	return cmd
}
