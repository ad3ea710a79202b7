package engine

import (
	"context"

	"github.com/newtron-network/newtauth/pkg/aaa"
	"github.com/newtron-network/newtauth/pkg/backup"
	"github.com/newtron-network/newtauth/pkg/ledger"
	"github.com/newtron-network/newtauth/pkg/probe"
)

// Resume finishes deferred retirements recorded in the ledger for this
// device. It enters DECIDING directly with each record's candidates. A
// record flagged ProbePassed is trusted; otherwise the group is probed again
// and the run's policy applied. Records are resolved on successful
// retirement; anything else leaves them in place.
func (e *Engine) Resume(ctx context.Context, records []*ledger.Record) *DeviceResult {
	e.begin()
	e.result.Resumed = true
	defer e.finish(ctx)

	if err := e.connect(ctx); err != nil {
		return e.fail(err)
	}
	if err := e.snapshot(ctx, backup.KindPre); err != nil {
		return e.fail(err)
	}

	e.transition(StateDeciding)
	probed := make(map[string][]*probe.Result)
	for _, rec := range records {
		if rec.Resolved() || rec.Device != e.target.Name {
			continue
		}
		if err := e.resumeRecord(ctx, rec, probed); err != nil {
			return e.fail(err)
		}
	}

	e.conclude()
	return e.result
}

func (e *Engine) resumeRecord(ctx context.Context, rec *ledger.Record, probed map[string][]*probe.Result) error {
	gs, entry := recordState(rec)
	out := e.result.Group(gs.Name)
	if out == nil {
		out = newOutcome(gs)
		e.result.Groups = append(e.result.Groups, out)
	} else {
		out.Retiring = append(out.Retiring, entry.ID())
	}
	e.log().Infof("resuming %s in %s (record %s)", entry.ID(), rec.Group, rec.ID)

	cfg, err := e.readConfig(ctx)
	if err != nil {
		return err
	}
	if !cfg.Mentions(gs.Name, entry) {
		out.Decision = DecisionRetire
		out.Retired = append(out.Retired, entry.ID())
		e.resolve(entry)
		return nil
	}
	if err := aaa.VerifyPresent(e.target.Name, cfg, gs); err != nil {
		e.warn("record %s left open: %v", rec.ID, err)
		out.Decision = DecisionKeep
		out.Kept = append(out.Kept, entry.ID())
		return nil
	}

	if rec.ProbePassed {
		out.PolicySatisfied = true
	} else {
		results, ok := probed[gs.Name]
		if !ok {
			e.transition(StateProbing)
			results, err = e.probeGroup(ctx, gs)
			if err != nil {
				return err
			}
			probed[gs.Name] = results
			e.transition(StateDeciding)
		}
		out.PolicySatisfied = Satisfied(e.cfg.Plan.Policy, results)
	}

	if !out.PolicySatisfied {
		e.log().Infof("policy %s still not satisfied for %s", e.cfg.Plan.Policy, gs.Name)
		out.Decision = DecisionKeep
		out.Kept = append(out.Kept, entry.ID())
		return nil
	}

	out.Decision = DecisionRetire
	return e.retire(ctx, gs, entry, out)
}

// recordState rebuilds a one-entry working model from a ledger record.
func recordState(rec *ledger.Record) (*aaa.GroupState, *aaa.ServerEntry) {
	gs := &aaa.GroupState{Name: rec.Group, Protocol: rec.Protocol}
	for _, s := range rec.Added {
		gs.Candidates = append(gs.Candidates, &aaa.ServerEntry{
			Name:     s.Name,
			Address:  s.Address,
			Protocol: rec.Protocol,
			Role:     aaa.RoleCandidate,
		})
	}
	entry := &aaa.ServerEntry{
		Name:     rec.Entry.Name,
		Address:  rec.Entry.Address,
		Protocol: rec.Protocol,
		Role:     aaa.RoleRetiring,
	}
	gs.Retiring = []*aaa.ServerEntry{entry}
	return gs, entry
}
