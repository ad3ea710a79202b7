package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtauth/pkg/audit"
	"github.com/newtron-network/newtauth/pkg/cli"
	"github.com/newtron-network/newtauth/pkg/ledger"
	"github.com/newtron-network/newtauth/pkg/util"
)

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Inspect the cleanup ledger",
		Long: `Inspect deferred retirements in the cleanup ledger.

Each record names an old server that was kept on a device because the new
servers were not proven. 'newtauth run --resume-cleanup' finishes them;
'cleanup resolve' closes one that was handled by hand.

  newtauth cleanup list
  newtauth cleanup show edge1-ny OLD1@10.0.0.1
  newtauth cleanup resolve edge1-ny OLD1@10.0.0.1`,
	}
	cmd.AddCommand(newCleanupListCmd(), newCleanupShowCmd(), newCleanupResolveCmd())
	return cmd
}

func newCleanupListCmd() *cobra.Command {
	var (
		all     bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cleanup records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger()
			if err != nil {
				return err
			}
			var records []*ledger.Record
			if all {
				records, err = l.List()
			} else {
				records, err = l.Unresolved()
			}
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			if len(records) == 0 {
				fmt.Println("No cleanup records")
				return nil
			}

			t := cli.NewTable("DEVICE", "GROUP", "KEPT", "PROBE", "RUN", "CREATED", "STATUS")
			for _, r := range records {
				probe := "not passed"
				if r.ProbePassed {
					probe = "passed"
				}
				status := cli.Status("open", cli.LevelWarn)
				if r.Resolved() {
					status = cli.Status("resolved", cli.LevelOK)
				}
				t.Row(r.Device, r.Group, r.Entry.ID(), probe, r.RunID, r.CreatedAt.Format("2006-01-02 15:04"), status)
			}
			t.Flush()
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include resolved records")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}

func newCleanupShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <device> <entry>",
		Short: "Show one cleanup record and its remediation commands",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger()
			if err != nil {
				return err
			}
			r, err := l.Get(args[0], args[1])
			if err != nil {
				return err
			}
			if r == nil {
				return fmt.Errorf("no cleanup record for %s on %s", args[1], args[0])
			}

			fmt.Printf("Record:    %s\n", r.ID)
			fmt.Printf("Device:    %s (%s, %s)\n", r.Device, r.Address, r.Platform)
			fmt.Printf("Group:     %s (%s)\n", r.Group, r.Protocol)
			fmt.Printf("Kept:      %s\n", r.Entry.ID())
			added := make([]string, len(r.Added))
			for i, s := range r.Added {
				added[i] = s.ID()
			}
			fmt.Printf("Added:     %s\n", strings.Join(added, ", "))
			fmt.Printf("Reason:    %s\n", r.Reason)
			fmt.Printf("Run:       %s\n", r.RunID)
			if r.Resolved() {
				fmt.Printf("Resolved:  %s\n", r.ResolvedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Println("\nRemediation:")
			for _, c := range r.Remediation {
				fmt.Printf("  %s\n", c)
			}
			return nil
		},
	}
}

func newCleanupResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <device> <entry>",
		Short: "Mark a cleanup record resolved without touching the device",
		Long: `Mark a cleanup record resolved. Use this when the old server was removed
by hand or should stay permanently. The device is not contacted.

  newtauth cleanup resolve edge1-ny OLD1@10.0.0.1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceName, entry := args[0], args[1]
			l, err := openLedger()
			if err != nil {
				return err
			}
			resolved, err := l.Resolve(deviceName, entry)
			if err != nil {
				return err
			}
			if !resolved {
				fmt.Printf("No open cleanup record for %s on %s\n", entry, deviceName)
				return nil
			}

			event := audit.NewEvent(currentUser(), deviceName, audit.OpResolve).
				WithCommands(entry).
				WithSuccess()
			if err := audit.Log(event); err != nil {
				util.Warnf("audit log: %v", err)
			}
			fmt.Printf("Resolved %s on %s\n", entry, deviceName)
			return nil
		},
	}
}
