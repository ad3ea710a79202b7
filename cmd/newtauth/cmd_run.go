package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtauth/pkg/aaa"
	"github.com/newtron-network/newtauth/pkg/backup"
	"github.com/newtron-network/newtauth/pkg/cli"
	"github.com/newtron-network/newtauth/pkg/device"
	"github.com/newtron-network/newtauth/pkg/ledger"
	"github.com/newtron-network/newtauth/pkg/orchestrator"
	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
	"github.com/newtron-network/newtauth/pkg/version"
)

// lockTTL bounds how long a crashed run can hold a device lock.
const lockTTL = 30 * time.Minute

func newRunCmd() *cobra.Command {
	var (
		devicesPath string
		planPath    string
		only        string
		concurrency int
		policy      string
		dryRun      bool
		resume      bool
		probeRate   float64
		lockRedis   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate AAA servers on every listed device",
		Long: `Add the plan's candidate servers to every device, probe them, and retire
the old servers where the policy is satisfied.

A device whose candidates do not pass keeps its old servers; the deferred
retirement is recorded in the cleanup ledger. Finish those later with
--resume-cleanup, which re-probes and retires what now passes.

The command exits non-zero only when the run cannot start. Per-device
outcomes are in the report written under the runs directory.

  newtauth run -D devices.yaml -p plan.yaml
  newtauth run -D devices.yaml -p plan.yaml -c 10 --policy require-all-pass
  newtauth run -D devices.yaml -p plan.yaml --dry-run
  newtauth run -D devices.yaml -p plan.yaml --resume-cleanup`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := spec.LoadDevices(devicesPath)
			if err != nil {
				return err
			}
			if targets, err = selectDevices(targets, only); err != nil {
				return err
			}
			plan, err := spec.LoadPlan(planPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("policy") {
				p, err := spec.ParsePolicy(policy)
				if err != nil {
					return err
				}
				plan.Policy = p
			}
			if dryRun {
				plan.DryRun = true
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = userSettings.GetConcurrency()
			}
			if !cmd.Flags().Changed("probe-rate") {
				probeRate = userSettings.ProbeRate
			}
			if lockRedis == "" {
				lockRedis = userSettings.LockRedis
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runID := orchestrator.NewRunID()
			runDir := filepath.Join(userSettings.GetRunsDir(), runID)
			secrets := spec.NewSecretCache()

			opts := orchestrator.Options{
				RunID:       runID,
				Concurrency: concurrency,
				ProbeRate:   probeRate,
				Secrets:     secrets,
				Progress:    orchestrator.NewConsoleProgress(verbose),
				User:        currentUser(),
			}

			if plan.DryRun {
				// Simulated outcomes must not reach the live ledger or backups.
				opts.Opener = device.NewSimulator()
				opts.Backups = backup.NewManager(filepath.Join(runDir, "backups"))
				dry, err := ledger.Open(filepath.Join(runDir, "ledger.jsonl"))
				if err != nil {
					return err
				}
				opts.Ledger = dry
				if resume {
					live, err := openLedger()
					if err != nil {
						return err
					}
					n, err := seedDryRunLedger(live, dry)
					if err != nil {
						return err
					}
					util.Logger.Infof("dry run: simulating %d open cleanup record(s) from %s", n, live.Path())
				}
				fmt.Fprintf(os.Stderr, "newtauth: dry run against simulated devices; nothing is sent\n")
			} else {
				opts.Opener = device.NewSSHOpener(secrets, userSettings.KnownHosts, plan.Timeouts.Connect)
				opts.Backups = backupManager()
				if opts.Ledger, err = openLedger(); err != nil {
					return err
				}
				if lockRedis != "" {
					locker, err := device.NewRedisLocker(ctx, lockRedis, lockHolder(runID), lockTTL)
					if err != nil {
						return err
					}
					defer locker.Close()
					opts.Locker = locker
				}
			}

			o := orchestrator.New(opts)
			run := o.Run
			if resume {
				run = o.Resume
			}
			r, err := run(ctx, targets, plan)
			if err != nil {
				return err
			}

			if err := r.Save(runDir); err != nil {
				util.Logger.Warnf("failed to save run report: %v", err)
			} else {
				fmt.Fprintf(os.Stderr, "report: %s\n", filepath.Join(runDir, "report.md"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&devicesPath, "devices", "D", "", "Device list file (YAML)")
	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Migration plan file (YAML)")
	cmd.Flags().StringVar(&only, "only", "", "Comma-separated device names to include")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", orchestrator.DefaultConcurrency, "Devices migrated at once")
	cmd.Flags().StringVar(&policy, "policy", "", "Probe policy: keep-if-any-pass or require-all-pass")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run against simulated devices")
	cmd.Flags().BoolVar(&resume, "resume-cleanup", false, "Finish deferred retirements from the cleanup ledger")
	cmd.Flags().Float64Var(&probeRate, "probe-rate", 0, "Maximum probes per second across the run (0 = unpaced)")
	cmd.Flags().StringVar(&lockRedis, "lock-redis", "", "Redis address for per-device locks")
	cmd.MarkFlagRequired("devices")
	cmd.MarkFlagRequired("plan")
	return cmd
}

// seedDryRunLedger copies the open records of live into dry so a simulated
// resume has the same work as a live one. live is only read.
func seedDryRunLedger(live, dry *ledger.Ledger) (int, error) {
	recs, err := live.Unresolved()
	if err != nil {
		return 0, err
	}
	for _, r := range recs {
		rec := *r
		if err := dry.Record(&rec); err != nil {
			return 0, err
		}
	}
	return len(recs), nil
}

// lockHolder identifies this run in device lock records.
func lockHolder(runID string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s@%s/%s", version.UserAgent(), host, runID)
}

func newPlanCmd() *cobra.Command {
	var (
		devicesPath string
		planPath    string
		only        string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the commands a run would send",
		Long: `Print, per device, the add-only commands a run would send and the
retirement commands that would follow a passing probe. Nothing is contacted.

The device's configuration is taken from its newest backup snapshot, or from
its sim_config metadata when no snapshot exists. Secrets are not resolved.

  newtauth plan -D devices.yaml -p plan.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := spec.LoadDevices(devicesPath)
			if err != nil {
				return err
			}
			if targets, err = selectDevices(targets, only); err != nil {
				return err
			}
			plan, err := spec.LoadPlan(planPath)
			if err != nil {
				return err
			}
			bm := backupManager()
			for _, t := range targets {
				if err := previewDevice(os.Stdout, bm, t, plan); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&devicesPath, "devices", "D", "", "Device list file (YAML)")
	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Migration plan file (YAML)")
	cmd.Flags().StringVar(&only, "only", "", "Comma-separated device names to include")
	cmd.MarkFlagRequired("devices")
	cmd.MarkFlagRequired("plan")
	return cmd
}

// previewDevice writes the planned change sets for one device.
func previewDevice(w io.Writer, bm *backup.Manager, target *spec.DeviceTarget, plan *spec.Plan) error {
	p, err := platform.Lookup(target.Platform)
	if err != nil {
		return fmt.Errorf("%s: %w", target.Name, err)
	}
	text, source, err := knownConfig(bm, target)
	if err != nil {
		return fmt.Errorf("%s: %w", target.Name, err)
	}
	cfg := aaa.Parse(p, text)

	desired := make([]*aaa.GroupState, len(plan.Groups))
	for i, gp := range plan.Groups {
		desired[i] = aaa.Classify(cfg, gp)
	}
	redacted := func(string) (string, error) { return aaa.Redacted, nil }
	adds, err := aaa.PlanAdditions(p, target.Name, cfg, desired, redacted)
	if err != nil {
		return fmt.Errorf("%s: %w", target.Name, err)
	}

	fmt.Fprintf(w, "%s (%s, config from %s)\n", cli.Bold(target.Name), target.Platform, source)
	fmt.Fprint(w, adds.String())
	for _, gs := range desired {
		if len(gs.Retiring) == 0 {
			fmt.Fprintf(w, "  group %s: nothing to retire\n", gs.Name)
			continue
		}
		fmt.Fprintf(w, "  group %s: after a passing probe (%s)\n", gs.Name, plan.Policy)
		for _, e := range gs.Retiring {
			fmt.Fprint(w, aaa.PlanRetirement(p, target.Name, cfg, gs.Name, gs.Protocol, e).String())
		}
	}
	fmt.Fprintln(w)
	return nil
}

// knownConfig returns the newest stored configuration for target and where it
// came from.
func knownConfig(bm *backup.Manager, target *spec.DeviceTarget) (string, string, error) {
	backups, err := bm.List(target.Name)
	if err != nil {
		return "", "", err
	}
	if n := len(backups); n > 0 {
		b, content, err := backup.Load(backups[n-1].ManifestPath)
		if err != nil {
			return "", "", err
		}
		return content, fmt.Sprintf("%s snapshot of run %s", b.Kind, b.RunID), nil
	}
	if cfg, ok := target.Metadata[device.SimConfigKey]; ok {
		return cfg, device.SimConfigKey, nil
	}
	return "", "", fmt.Errorf("no backup snapshot or %s to plan against", device.SimConfigKey)
}
