package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtauth/pkg/audit"
	"github.com/newtron-network/newtauth/pkg/cli"
)

func newAuditCmd() *cobra.Command {
	var (
		deviceName string
		userName   string
		runID      string
		last       string
		limit      int
		failures   bool
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "View the audit log",
		Long: `View the audit log of migrations, resumes, restores, and cleanup
resolutions. Newest events are listed first.

  newtauth audit --device edge1-ny
  newtauth audit --run 20261017-101500-1a2b3c4d
  newtauth audit --last 24h --failures`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := audit.Filter{
				Device:      deviceName,
				User:        userName,
				RunID:       runID,
				Limit:       limit,
				FailureOnly: failures,
			}
			if last != "" {
				d, err := time.ParseDuration(last)
				if err != nil {
					return fmt.Errorf("invalid duration: %s", last)
				}
				filter.StartTime = time.Now().Add(-d)
			}

			events, err := audit.Query(filter)
			if err != nil {
				return fmt.Errorf("querying audit log: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(events)
			}
			if len(events) == 0 {
				fmt.Println("No audit events found")
				return nil
			}

			t := cli.NewTable("TIMESTAMP", "USER", "DEVICE", "OPERATION", "STATE", "STATUS")
			for _, e := range events {
				status := cli.Status("ok", cli.LevelOK)
				if !e.Success {
					status = cli.Status("failed", cli.LevelFail)
				}
				if e.DryRun {
					status += cli.Yellow(" (dry-run)")
				}
				t.Row(e.Timestamp.Format("2006-01-02 15:04:05"), e.User, e.Device, string(e.Operation), e.State, status)
			}
			t.Flush()
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceName, "device", "", "Filter by device")
	cmd.Flags().StringVar(&userName, "user", "", "Filter by user")
	cmd.Flags().StringVar(&runID, "run", "", "Filter by run ID")
	cmd.Flags().StringVar(&last, "last", "", "Show events from last duration (e.g., 24h)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events to show")
	cmd.Flags().BoolVar(&failures, "failures", false, "Show only failed operations")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	return cmd
}
