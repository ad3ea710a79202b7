// Newtauth - safe TACACS+/RADIUS server migration for network devices.
//
// A run adds the new AAA servers to every listed device, proves them with a
// live authentication probe, and only then retires the old servers. A device
// whose new servers cannot be proven keeps its old servers; the deferred
// retirement is written to the cleanup ledger and finished later with
// --resume-cleanup.
//
// Examples:
//
//	newtauth run -D devices.yaml -p plan.yaml                 # migrate the fleet
//	newtauth run -D devices.yaml -p plan.yaml --dry-run       # simulate, touch nothing
//	newtauth run -D devices.yaml -p plan.yaml --resume-cleanup
//	newtauth plan -D devices.yaml -p plan.yaml                # preview commands offline
//	newtauth cleanup list
//	newtauth restore ~/.newtauth/backups/edge1/<run>-pre.json -D devices.yaml -x
package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtauth/pkg/audit"
	"github.com/newtron-network/newtauth/pkg/backup"
	"github.com/newtron-network/newtauth/pkg/ledger"
	"github.com/newtron-network/newtauth/pkg/settings"
	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
	"github.com/newtron-network/newtauth/pkg/version"
)

var (
	verbose  bool
	jsonLogs bool

	userSettings *settings.Settings
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "newtauth",
		Short:             "Safe TACACS+/RADIUS server migration",
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		Long: `Newtauth migrates network devices from old to new TACACS+/RADIUS servers
without locking operators out.

New servers are added first and proven with a live authentication probe.
Old servers are removed only after the probe passes under the run's policy;
otherwise they stay and a cleanup record is written for a later
--resume-cleanup run.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				util.SetLogLevel("debug")
			} else {
				util.SetLogLevel("warn")
			}
			if jsonLogs {
				util.SetJSONFormat()
			}

			var err error
			userSettings, err = settings.Load()
			if err != nil {
				util.Warnf("Could not load settings: %v", err)
				userSettings = &settings.Settings{}
			}

			if isSettingsOrVersion(cmd) {
				return nil
			}

			auditLogger, err := audit.NewFileLogger(userSettings.GetAuditLog(), audit.RotationConfig{
				MaxSize:    10 * 1024 * 1024, // 10MB
				MaxBackups: 10,
			})
			if err != nil {
				util.Warnf("Could not initialize audit logging: %v", err)
			} else {
				audit.SetDefaultLogger(auditLogger)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logs)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "migrate", Title: "Migration:"},
		&cobra.Group{ID: "recover", Title: "Cleanup and Recovery:"},
		&cobra.Group{ID: "meta", Title: "Meta:"},
	)
	for _, cmd := range []*cobra.Command{newRunCmd(), newPlanCmd()} {
		cmd.GroupID = "migrate"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{newCleanupCmd(), newBackupCmd(), newRestoreCmd()} {
		cmd.GroupID = "recover"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{newAuditCmd(), newSettingsCmd(), versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("newtauth dev build (use 'make build' for version info)")
		} else {
			fmt.Printf("newtauth %s\n", version.Info())
		}
	},
}

// isSettingsOrVersion returns true for commands that need no run state.
func isSettingsOrVersion(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "version", "help":
			return true
		}
	}
	return false
}

// currentUser names the operator in audit events.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func openLedger() (*ledger.Ledger, error) {
	l, err := ledger.Open(userSettings.GetLedgerPath())
	if err != nil {
		return nil, fmt.Errorf("opening cleanup ledger: %w", err)
	}
	return l, nil
}

func backupManager() *backup.Manager {
	return backup.NewManager(userSettings.GetBackupDir())
}

// selectDevices narrows targets to the comma-separated names in only. An
// empty list selects every target.
func selectDevices(targets []*spec.DeviceTarget, only string) ([]*spec.DeviceTarget, error) {
	names := util.SplitCommaSeparated(only)
	if len(names) == 0 {
		return targets, nil
	}
	byName := make(map[string]*spec.DeviceTarget, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
	}
	selected := make([]*spec.DeviceTarget, 0, len(names))
	for _, n := range names {
		t, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("device %s is not in the device list", n)
		}
		selected = append(selected, t)
	}
	return selected, nil
}

// findDevice loads the device list and returns the named device.
func findDevice(devicesPath, name string) (*spec.DeviceTarget, error) {
	devices, err := spec.LoadDevices(devicesPath)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %s not found in %s", name, devicesPath)
}
