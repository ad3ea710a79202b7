package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtauth/pkg/audit"
	"github.com/newtron-network/newtauth/pkg/backup"
	"github.com/newtron-network/newtauth/pkg/cli"
	"github.com/newtron-network/newtauth/pkg/device"
	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect configuration snapshots",
		Long: `Inspect the pre- and post-change configuration snapshots taken by runs.

  newtauth backup list edge1-ny`,
	}

	listCmd := &cobra.Command{
		Use:   "list <device>",
		Short: "List snapshots for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backups, err := backupManager().List(args[0])
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Printf("No snapshots for %s\n", args[0])
				return nil
			}
			t := cli.NewTable("CREATED", "RUN", "KIND", "SIZE", "MANIFEST")
			for _, b := range backups {
				t.Row(b.CreatedAt.Format("2006-01-02 15:04:05"), b.RunID, string(b.Kind), fmt.Sprintf("%d", b.Size), b.ManifestPath)
			}
			t.Flush()
			return nil
		},
	}
	cmd.AddCommand(listCmd)
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var (
		devicesPath string
		execute     bool
	)

	cmd := &cobra.Command{
		Use:   "restore <manifest>",
		Short: "Replay a configuration snapshot onto its device",
		Long: `Replay a verified snapshot onto the device it was taken from.

Restore is never part of a migration run; it is for incident recovery.
Without -x the commands are printed and nothing is sent. A snapshot whose
checksum does not match its manifest is refused.

  newtauth restore ~/.newtauth/backups/edge1-ny/<run>-pre.json -D devices.yaml
  newtauth restore ~/.newtauth/backups/edge1-ny/<run>-pre.json -D devices.yaml -x`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest := args[0]
			b, _, err := backup.Load(manifest)
			if err != nil {
				return err
			}
			target, err := findDevice(devicesPath, b.Device)
			if err != nil {
				return err
			}
			_, lines, err := backup.RestorePlan(manifest, target)
			if err != nil {
				return err
			}

			fmt.Printf("Restore %s snapshot of run %s onto %s (%d lines)\n", b.Kind, b.RunID, target.Name, len(lines))
			if !execute {
				for _, l := range lines {
					fmt.Printf("  %s\n", l)
				}
				fmt.Println(cli.Yellow("\nDry run: use -x to execute"))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			start := time.Now()
			opener := device.NewSSHOpener(spec.NewSecretCache(), userSettings.KnownHosts, spec.DefaultConnectTimeout)
			_, restoreErr := backup.Restore(ctx, opener, target, manifest, spec.DefaultCommandTimeout)

			event := audit.NewEvent(currentUser(), target.Name, audit.OpRestore).
				WithRun(b.RunID).
				WithCommands("replay "+manifest).
				WithDuration(time.Since(start))
			if restoreErr != nil {
				event.WithError(restoreErr)
			} else {
				event.WithSuccess()
			}
			if err := audit.Log(event); err != nil {
				util.Warnf("audit log: %v", err)
			}
			if restoreErr != nil {
				return restoreErr
			}
			fmt.Println(cli.Green("Restore complete"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&devicesPath, "devices", "D", "", "Device list file (YAML)")
	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "Send the commands (default is dry run)")
	cmd.MarkFlagRequired("devices")
	return cmd
}
