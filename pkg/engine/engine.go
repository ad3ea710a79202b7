// Package engine implements the per-device migration state machine:
//
//	INIT -> SERVERS_ADDED -> PROBING -> DECIDING -> REMOVED_OLD | KEPT_OLD | FAILED
//
// An engine owns one device for the duration of a run. Retiring entries are
// removed only after a policy-satisfying probe pass for a candidate of the
// same group, and only reported removed after a configuration re-read
// confirms it. Everything else ends in KEPT_OLD with a cleanup record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtauth/pkg/aaa"
	"github.com/newtron-network/newtauth/pkg/backup"
	"github.com/newtron-network/newtauth/pkg/device"
	"github.com/newtron-network/newtauth/pkg/ledger"
	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/probe"
	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
)

// Ledger is the part of the cleanup ledger the engine writes to.
type Ledger interface {
	Record(rec *ledger.Record) error
	Resolve(device, entryID string) (bool, error)
}

// Config holds the collaborators shared by every engine of a run.
type Config struct {
	RunID   string
	Plan    *spec.Plan
	Opener  device.Opener
	Locker  device.Locker
	Prober  *probe.Prober
	Ledger  Ledger
	Secrets *spec.SecretCache
	// Backups stores snapshots and transcripts. Nil disables both.
	Backups *backup.Manager
}

// Engine runs the migration state machine for one device.
type Engine struct {
	cfg    Config
	target *spec.DeviceTarget

	platform *platform.Platform
	cli      *device.CLI
	cred     probe.Credential
	locked   bool
	mutated  bool

	state  State
	result *DeviceResult
}

// New creates an engine for target.
func New(cfg Config, target *spec.DeviceTarget) *Engine {
	if cfg.Locker == nil {
		cfg.Locker = device.NopLocker{}
	}
	if cfg.Secrets == nil {
		cfg.Secrets = spec.NewSecretCache()
	}
	if cfg.Prober == nil {
		cfg.Prober = probe.New(cfg.Plan.Timeouts.Probe, nil)
	}
	return &Engine{cfg: cfg, target: target, state: StateInit}
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) log() *logrus.Entry {
	return util.WithDeviceState(e.target.Name, string(e.state)).WithField("run", e.cfg.RunID)
}

func (e *Engine) transition(s State) {
	e.log().Debugf("-> %s", s)
	e.state = s
	e.result.State = s
}

func (e *Engine) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	e.log().Warn(msg)
	e.result.Warnings = append(e.result.Warnings, msg)
}

func (e *Engine) begin() {
	e.result = &DeviceResult{
		Device:   e.target.Name,
		Address:  e.target.Address,
		Platform: e.target.Platform,
		State:    StateInit,
		Start:    time.Now(),
	}
	e.state = StateInit
}

// fail records err and the state it interrupted, and ends in FAILED.
func (e *Engine) fail(err error) *DeviceResult {
	e.result.FailedIn = e.state
	e.result.Error = err.Error()
	e.log().Errorf("failed: %v", err)
	e.transition(StateFailed)
	return e.result
}

// Run migrates the device and returns its result. Errors never escape: they
// end the device in FAILED with the detail in the result.
func (e *Engine) Run(ctx context.Context) *DeviceResult {
	e.begin()
	defer e.finish(ctx)

	if err := e.connect(ctx); err != nil {
		return e.fail(err)
	}

	// INIT: read, classify, snapshot, add.
	cfg, err := e.readConfig(ctx)
	if err != nil {
		return e.fail(err)
	}
	groups := make([]*aaa.GroupState, 0, len(e.cfg.Plan.Groups))
	for _, gp := range e.cfg.Plan.Groups {
		gs := aaa.Classify(cfg, gp)
		for c, name := range gs.Aliased {
			e.log().Infof("%s: address already defined as %s, adding that server to %s", c, name, gs.Name)
		}
		groups = append(groups, gs)
		e.result.Groups = append(e.result.Groups, newOutcome(gs))
	}

	if err := e.snapshot(ctx, backup.KindPre); err != nil {
		return e.fail(err)
	}

	cs, err := aaa.PlanAdditions(e.platform, e.target.Name, cfg, groups, e.secret)
	if err != nil {
		return e.fail(err)
	}
	e.result.AddCommands = cs.DisplayLines()
	if !cs.IsEmpty() {
		e.log().Infof("adding candidates (%d commands)", len(cs.Commands))
		e.mutated = true
		if err := e.cli.Configure(ctx, cs.Lines()); err != nil {
			return e.fail(err)
		}
	}

	cfg, err = e.readConfig(ctx)
	if err != nil {
		return e.fail(err)
	}
	for _, gs := range groups {
		if err := aaa.VerifyPresent(e.target.Name, cfg, gs); err != nil {
			return e.fail(err)
		}
	}
	e.transition(StateServersAdded)

	// PROBING: every candidate, even after a pass.
	e.transition(StateProbing)
	results := make(map[string][]*probe.Result, len(groups))
	for _, gs := range groups {
		rs, err := e.probeGroup(ctx, gs)
		if err != nil {
			return e.fail(err)
		}
		results[gs.Name] = rs
	}

	// DECIDING
	e.transition(StateDeciding)
	for _, gs := range groups {
		if err := e.decide(ctx, gs, results[gs.Name]); err != nil {
			return e.fail(err)
		}
	}

	e.conclude()
	return e.result
}

func newOutcome(gs *aaa.GroupState) *GroupOutcome {
	out := &GroupOutcome{
		Group:        gs.Name,
		Protocol:     gs.Protocol,
		Reclassified: gs.Reclassified,
	}
	for _, c := range gs.Candidates {
		out.Candidates = append(out.Candidates, c.ID())
	}
	for _, r := range gs.Retiring {
		out.Retiring = append(out.Retiring, r.ID())
	}
	return out
}

func (e *Engine) outcome(gs *aaa.GroupState) *GroupOutcome {
	if out := e.result.Group(gs.Name); out != nil {
		return out
	}
	out := newOutcome(gs)
	e.result.Groups = append(e.result.Groups, out)
	return out
}

// decide applies the policy to one group and retires or keeps each retiring entry.
func (e *Engine) decide(ctx context.Context, gs *aaa.GroupState, results []*probe.Result) error {
	out := e.outcome(gs)
	out.PolicySatisfied = Satisfied(e.cfg.Plan.Policy, results)

	if len(gs.Retiring) == 0 {
		out.Decision = DecisionNothing
		return nil
	}

	if !out.PolicySatisfied {
		out.Decision = DecisionKeep
		cfg, err := e.readConfig(ctx)
		if err != nil {
			return err
		}
		reason := fmt.Sprintf("policy %s not satisfied (%s)", e.cfg.Plan.Policy, summarize(results))
		for _, entry := range gs.Retiring {
			if err := e.keep(cfg, gs, entry, out, false, reason); err != nil {
				return err
			}
		}
		return nil
	}

	out.Decision = DecisionRetire
	for _, entry := range gs.Retiring {
		if err := e.retire(ctx, gs, entry, out); err != nil {
			return err
		}
	}
	return nil
}

// retire removes entry from its group. It must only be called after a
// policy-satisfying pass for gs. Drift and silent no-ops keep the entry with
// a cleanup record; rejected commands, lost sessions, and ledger failures
// return an error.
func (e *Engine) retire(ctx context.Context, gs *aaa.GroupState, entry *aaa.ServerEntry, out *GroupOutcome) error {
	cfg, err := e.readConfig(ctx)
	if err != nil {
		return err
	}
	if !cfg.Mentions(gs.Name, entry) {
		e.log().Infof("%s already absent from %s", entry.ID(), gs.Name)
		out.Retired = append(out.Retired, entry.ID())
		e.resolve(entry)
		return nil
	}
	if err := aaa.VerifyPresent(e.target.Name, cfg, gs); err != nil {
		e.warn("not retiring %s: %v", entry.ID(), err)
		return e.keep(cfg, gs, entry, out, false, "candidate missing before retirement: "+err.Error())
	}

	cs := aaa.PlanRetirement(e.platform, e.target.Name, cfg, gs.Name, gs.Protocol, entry)
	e.result.RetireCommands = append(e.result.RetireCommands, cs.DisplayLines()...)
	e.mutated = true
	if err := e.cli.Configure(ctx, cs.Lines()); err != nil {
		if errors.Is(err, util.ErrCommandRejected) {
			if lerr := e.keep(cfg, gs, entry, out, true, "retirement rejected: "+err.Error()); lerr != nil {
				return lerr
			}
		}
		return err
	}

	after, err := e.readConfig(ctx)
	if err != nil {
		return err
	}
	if verr := aaa.VerifyRetired(e.target.Name, after, gs.Name, entry); verr != nil {
		e.warn("%v", verr)
		return e.keep(after, gs, entry, out, true, verr.Error())
	}

	e.log().Infof("retired %s from %s", entry.ID(), gs.Name)
	out.Retired = append(out.Retired, entry.ID())
	e.resolve(entry)
	return nil
}

// keep leaves entry on the device and records the deferred retirement. A
// record that cannot be persisted is an error: the device must not end
// KEPT_OLD without its follow-up being durable.
func (e *Engine) keep(cfg *aaa.Config, gs *aaa.GroupState, entry *aaa.ServerEntry, out *GroupOutcome, probePassed bool, reason string) error {
	cs := aaa.PlanRetirement(e.platform, e.target.Name, cfg, gs.Name, gs.Protocol, entry)
	rec := &ledger.Record{
		Device:      e.target.Name,
		Address:     e.target.Address,
		Platform:    e.target.Platform,
		Group:       gs.Name,
		Protocol:    gs.Protocol,
		Entry:       ledger.Server{Name: entry.Name, Address: entry.Address},
		Reason:      reason,
		ProbePassed: probePassed,
		RunID:       e.cfg.RunID,
		Remediation: cs.DisplayLines(),
	}
	for _, c := range gs.Candidates {
		rec.Added = append(rec.Added, ledger.Server{Name: c.Name, Address: c.Address})
	}

	if err := e.cfg.Ledger.Record(rec); err != nil {
		return err
	}
	e.log().Infof("kept %s in %s: %s", entry.ID(), gs.Name, reason)
	out.Kept = append(out.Kept, entry.ID())
	e.result.CleanupRecords = append(e.result.CleanupRecords, rec.ID)
	return nil
}

func (e *Engine) resolve(entry *aaa.ServerEntry) {
	ok, err := e.cfg.Ledger.Resolve(e.target.Name, entry.ID())
	if err != nil {
		e.warn("resolving cleanup record for %s: %v", entry.ID(), err)
		return
	}
	if ok {
		e.result.Resolved = append(e.result.Resolved, entry.ID())
	}
}

// conclude picks the terminal state: KEPT_OLD if any group kept an entry,
// otherwise REMOVED_OLD.
func (e *Engine) conclude() {
	for _, g := range e.result.Groups {
		if len(g.Kept) > 0 {
			e.transition(StateKeptOld)
			return
		}
	}
	e.transition(StateRemovedOld)
}

func (e *Engine) probeGroup(ctx context.Context, gs *aaa.GroupState) ([]*probe.Result, error) {
	var results []*probe.Result
	for _, c := range gs.Candidates {
		r, err := e.cfg.Prober.Probe(ctx, e.cli, gs.Name, gs.Protocol, c, e.cred)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
		e.result.Probes = append(e.result.Probes, r)
	}
	return results, nil
}

// connect takes the device lock, resolves the probe credential, and opens
// the session.
func (e *Engine) connect(ctx context.Context) error {
	p, err := platform.Lookup(e.target.Platform)
	if err != nil {
		return err
	}
	e.platform = p

	pass, err := e.cfg.Secrets.Get(e.cfg.Plan.Probe.PasswordRef)
	if err != nil {
		return fmt.Errorf("probe credential: %w", err)
	}
	e.cred = probe.Credential{Username: e.cfg.Plan.Probe.Username, Password: pass}

	if err := e.cfg.Locker.Acquire(ctx, e.target.Name); err != nil {
		return err
	}
	e.locked = true

	s, err := device.OpenWithRetry(ctx, e.cfg.Opener, e.target, device.ConnectAttempts)
	if err != nil {
		return err
	}
	tr := device.NewTranscript(e.target.Name)
	tr.AddSecret(pass)
	e.cli = device.NewCLI(e.target.Name, p, s, tr, e.cfg.Plan.Timeouts.Command)
	e.log().Info("connected")
	return nil
}

// secret resolves a candidate secret and registers it for redaction.
func (e *Engine) secret(ref string) (string, error) {
	v, err := e.cfg.Secrets.Get(ref)
	if err != nil {
		return "", err
	}
	e.cli.Transcript.AddSecret(v)
	return v, nil
}

func (e *Engine) readConfig(ctx context.Context) (*aaa.Config, error) {
	text, err := e.cli.AAAConfig(ctx)
	if err != nil {
		return nil, err
	}
	return aaa.Parse(e.platform, text), nil
}

func (e *Engine) snapshot(ctx context.Context, kind backup.Kind) error {
	if e.cfg.Backups == nil {
		return nil
	}
	b, err := e.cfg.Backups.Snapshot(ctx, e.cli, e.cfg.RunID, kind)
	if err != nil {
		return err
	}
	e.result.Backups = append(e.result.Backups, b.ManifestPath)
	return nil
}

// finish saves the configuration if requested, takes the post snapshot,
// writes the transcript, and releases the session and lock. Failures here
// are warnings; the terminal state is already decided.
func (e *Engine) finish(ctx context.Context) {
	if e.cli != nil {
		if e.mutated && e.cfg.Plan.SaveConfig && e.state != StateFailed {
			if err := e.cli.Save(ctx); err != nil {
				e.warn("saving configuration: %v", err)
			}
		}
		if err := e.snapshot(ctx, backup.KindPost); err != nil {
			e.warn("post-change snapshot: %v", err)
		}
		if e.cfg.Backups != nil {
			path := e.cfg.Backups.TranscriptPath(e.target.Name, e.cfg.RunID)
			if err := e.cli.Transcript.Save(path); err != nil {
				e.warn("writing transcript: %v", err)
			} else {
				e.result.Transcript = path
			}
		}
		e.cli.Close()
	}
	if e.locked {
		if err := e.cfg.Locker.Release(ctx, e.target.Name); err != nil {
			e.warn("releasing lock: %v", err)
		}
	}

	e.result.End = time.Now()
	e.result.Duration = e.result.End.Sub(e.result.Start)
	e.log().Infof("finished in %s", e.result.Duration.Round(time.Millisecond))
}
