// Package orchestrator runs the migration engine across a device fleet on a
// bounded worker pool and aggregates the run report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/newtauth/pkg/audit"
	"github.com/newtron-network/newtauth/pkg/backup"
	"github.com/newtron-network/newtauth/pkg/device"
	"github.com/newtron-network/newtauth/pkg/engine"
	"github.com/newtron-network/newtauth/pkg/ledger"
	"github.com/newtron-network/newtauth/pkg/probe"
	"github.com/newtron-network/newtauth/pkg/report"
	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
)

// Concurrency limits.
const (
	DefaultConcurrency = 5
	MaxConcurrency     = 32
)

// Ledger is the cleanup ledger as the orchestrator uses it.
type Ledger interface {
	engine.Ledger
	Unresolved() ([]*ledger.Record, error)
}

// Options configures a run.
type Options struct {
	// RunID identifies the run; generated when empty.
	RunID       string
	Concurrency int
	// ProbeRate caps probes per second across all devices (0 = unpaced).
	ProbeRate float64

	Opener  device.Opener
	Locker  device.Locker
	Ledger  Ledger
	Backups *backup.Manager
	Secrets *spec.SecretCache

	Progress Progress
	// Audit receives one event per device. Nil uses the package default.
	Audit audit.Logger
	User  string
}

// Orchestrator dispatches one engine per device.
type Orchestrator struct {
	opts Options

	mu       sync.Mutex
	warnings []string
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Locker == nil {
		opts.Locker = device.NopLocker{}
	}
	if opts.Secrets == nil {
		opts.Secrets = spec.NewSecretCache()
	}
	if opts.Progress == nil {
		opts.Progress = nopProgress{}
	}
	return &Orchestrator{opts: opts}
}

// NewRunID returns a sortable unique run identifier.
func NewRunID() string {
	return time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// job is one device and how to run its engine.
type job struct {
	target *spec.DeviceTarget
	run    func(ctx context.Context, e *engine.Engine) *engine.DeviceResult
	op     audit.Operation
}

// Run migrates every target. The error is non-nil only when the run cannot
// start; per-device failures are in the report.
func (o *Orchestrator) Run(ctx context.Context, targets []*spec.DeviceTarget, plan *spec.Plan) (*report.RunReport, error) {
	if err := o.prepare(plan); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.New("no devices to migrate")
	}

	jobs := make([]job, len(targets))
	for i, t := range targets {
		jobs[i] = job{
			target: t,
			op:     audit.OpMigrate,
			run: func(ctx context.Context, e *engine.Engine) *engine.DeviceResult {
				return e.Run(ctx)
			},
		}
	}
	r := report.New(o.opts.RunID, plan)
	return o.execute(ctx, r, plan, jobs), nil
}

// Resume finishes deferred retirements from the ledger for the listed
// devices. Records for devices not in targets are reported as warnings.
func (o *Orchestrator) Resume(ctx context.Context, targets []*spec.DeviceTarget, plan *spec.Plan) (*report.RunReport, error) {
	if err := o.prepare(plan); err != nil {
		return nil, err
	}
	records, err := o.opts.Ledger.Unresolved()
	if err != nil {
		return nil, fmt.Errorf("reading cleanup ledger: %w", err)
	}

	byDevice := make(map[string][]*ledger.Record)
	for _, rec := range records {
		byDevice[rec.Device] = append(byDevice[rec.Device], rec)
	}

	r := report.New(o.opts.RunID, plan)
	r.Resume = true

	var jobs []job
	for _, t := range targets {
		recs, ok := byDevice[t.Name]
		if !ok {
			continue
		}
		delete(byDevice, t.Name)
		jobs = append(jobs, job{
			target: t,
			op:     audit.OpResume,
			run: func(ctx context.Context, e *engine.Engine) *engine.DeviceResult {
				return e.Resume(ctx, recs)
			},
		})
	}
	for _, rec := range records {
		if _, orphan := byDevice[rec.Device]; orphan {
			r.Warn("cleanup record %s for %s (%s in %s): device not in the device list", rec.ID, rec.Device, rec.Entry.ID(), rec.Group)
		}
	}
	if len(jobs) == 0 {
		util.WithRun(o.opts.RunID).Info("no unresolved cleanup records for the listed devices")
	}
	return o.execute(ctx, r, plan, jobs), nil
}

func (o *Orchestrator) prepare(plan *spec.Plan) error {
	if plan == nil {
		return errors.New("no migration plan")
	}
	if o.opts.Opener == nil {
		return errors.New("no session opener configured")
	}
	if o.opts.Ledger == nil {
		return errors.New("no cleanup ledger configured")
	}
	if o.opts.RunID == "" {
		o.opts.RunID = NewRunID()
	}

	// Resolve the probe credential once, before any device is touched, so a
	// bad reference or an interactive prompt does not happen per device.
	if _, err := o.opts.Secrets.Get(plan.Probe.PasswordRef); err != nil {
		return fmt.Errorf("probe credential: %w", err)
	}
	return nil
}

func (o *Orchestrator) concurrency() int {
	n := o.opts.Concurrency
	switch {
	case n <= 0:
		return DefaultConcurrency
	case n > MaxConcurrency:
		o.warn("concurrency %d capped at %d", n, MaxConcurrency)
		return MaxConcurrency
	}
	return n
}

func (o *Orchestrator) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	util.WithRun(o.opts.RunID).Warn(msg)
	o.mu.Lock()
	o.warnings = append(o.warnings, msg)
	o.mu.Unlock()
}

// execute runs jobs on the pool. Once ctx is cancelled no further device is
// started; devices already running finish on a context detached from ctx so
// none is abandoned mid-change. Undispatched devices are reported SKIPPED.
func (o *Orchestrator) execute(ctx context.Context, r *report.RunReport, plan *spec.Plan, jobs []job) *report.RunReport {
	limit := o.concurrency()
	log := util.WithRun(o.opts.RunID)
	log.Infof("starting run: %d devices, concurrency %d, policy %s", len(jobs), limit, plan.Policy)

	cfg := engine.Config{
		RunID:   o.opts.RunID,
		Plan:    plan,
		Opener:  o.opts.Opener,
		Locker:  o.opts.Locker,
		Prober:  probe.New(plan.Timeouts.Probe, probe.NewLimiter(o.opts.ProbeRate)),
		Ledger:  o.opts.Ledger,
		Secrets: o.opts.Secrets,
		Backups: o.opts.Backups,
	}

	targets := make([]*spec.DeviceTarget, len(jobs))
	for i, j := range jobs {
		targets[i] = j.target
	}
	o.opts.Progress.RunStart(o.opts.RunID, targets, limit)

	results := make([]*engine.DeviceResult, len(jobs))
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, j := range jobs {
		if ctx.Err() != nil {
			results[i] = o.skip(j, i, len(jobs))
			continue
		}
		g.Go(func() error {
			// A slot may free up after cancellation.
			if ctx.Err() != nil {
				results[i] = o.skip(j, i, len(jobs))
				return nil
			}
			o.opts.Progress.DeviceStart(j.target, i, len(jobs))
			res := j.run(detached, engine.New(cfg, j.target))
			results[i] = res
			o.audit(j.op, res, plan.DryRun)
			o.opts.Progress.DeviceEnd(res, i, len(jobs))
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		o.warn("run aborted: %v", context.Cause(ctx))
	}
	o.mu.Lock()
	r.Warnings = append(r.Warnings, o.warnings...)
	o.warnings = nil
	o.mu.Unlock()

	r.Finish(results)
	o.opts.Progress.RunEnd(r)
	log.Infof("run finished in %s", r.Duration.Round(time.Second))
	return r
}

func (o *Orchestrator) skip(j job, index, total int) *engine.DeviceResult {
	res := engine.Skipped(j.target, "run aborted")
	o.opts.Progress.DeviceEnd(res, index, total)
	return res
}

func (o *Orchestrator) audit(op audit.Operation, res *engine.DeviceResult, dryRun bool) {
	event := audit.NewEvent(o.opts.User, res.Device, op).
		WithRun(o.opts.RunID).
		WithState(string(res.State)).
		WithCommands(res.AddCommands...).
		WithCommands(res.RetireCommands...).
		WithCleanupRecords(res.CleanupRecords).
		WithDuration(res.Duration).
		WithDryRun(dryRun)
	if res.State == engine.StateFailed {
		event.WithError(errors.New(res.Error))
	} else {
		event.WithSuccess()
	}

	var err error
	if o.opts.Audit != nil {
		err = o.opts.Audit.Log(event)
	} else {
		err = audit.Log(event)
	}
	if err != nil {
		o.warn("audit log for %s: %v", res.Device, err)
	}
}
