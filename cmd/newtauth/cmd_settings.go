package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtauth/pkg/cli"
	"github.com/newtron-network/newtauth/pkg/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage persistent settings",
		Long: `Manage persistent settings stored in ~/.newtauth/settings.json.

Settings provide defaults for run flags and state locations:
  - ledger_path, backup_dir, runs_dir, audit_log
  - concurrency, probe_rate, lock_redis, known_hosts

Examples:
  newtauth settings show
  newtauth settings set concurrency 10
  newtauth settings set lock_redis 127.0.0.1:6379
  newtauth settings clear`,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}

			fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

			t := cli.NewTable("SETTING", "VALUE")
			printSetting := func(name, value string) {
				if value == "" {
					value = "(not set)"
				}
				t.Row(name, value)
			}
			printSetting("ledger_path", s.GetLedgerPath())
			printSetting("backup_dir", s.GetBackupDir())
			printSetting("runs_dir", s.GetRunsDir())
			printSetting("audit_log", s.GetAuditLog())
			printSetting("concurrency", fmt.Sprintf("%d", s.GetConcurrency()))
			if s.ProbeRate > 0 {
				printSetting("probe_rate", fmt.Sprintf("%g/s", s.ProbeRate))
			} else {
				printSetting("probe_rate", "")
			}
			printSetting("lock_redis", s.LockRedis)
			printSetting("known_hosts", s.KnownHosts)
			t.Flush()
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <setting> <value>",
		Short: "Set a setting value",
		Long: fmt.Sprintf(`Set a persistent setting value.

Available settings: %s`, strings.Join(settings.Keys(), ", ")),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load()
			if err != nil {
				s = &settings.Settings{}
			}
			if err := s.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := s.Save(); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			fmt.Printf("%s set to: %s\n", args[0], args[1])
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := &settings.Settings{}
			if err := s.Save(); err != nil {
				return fmt.Errorf("saving settings: %w", err)
			}
			fmt.Println("All settings cleared.")
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show settings file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(settings.DefaultSettingsPath())
		},
	}

	cmd.AddCommand(showCmd, setCmd, clearCmd, pathCmd)
	return cmd
}
