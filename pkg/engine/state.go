package engine

import (
	"time"

	"github.com/newtron-network/newtauth/pkg/probe"
	"github.com/newtron-network/newtauth/pkg/spec"
)

// State is a per-device migration state.
type State string

const (
	StateInit         State = "INIT"
	StateServersAdded State = "SERVERS_ADDED"
	StateProbing      State = "PROBING"
	StateDeciding     State = "DECIDING"
	StateRemovedOld   State = "REMOVED_OLD"
	StateKeptOld      State = "KEPT_OLD"
	StateFailed       State = "FAILED"
	// StateSkipped marks a device never dispatched because the run was aborted.
	StateSkipped State = "SKIPPED"
)

// Terminal reports whether s ends a device's run.
func (s State) Terminal() bool {
	switch s {
	case StateRemovedOld, StateKeptOld, StateFailed, StateSkipped:
		return true
	}
	return false
}

// TerminalStates lists terminal states in report order.
var TerminalStates = []State{StateRemovedOld, StateKeptOld, StateFailed, StateSkipped}

// Decision is what the engine concluded for one group.
type Decision string

const (
	DecisionRetire  Decision = "retire"
	DecisionKeep    Decision = "keep"
	DecisionNothing Decision = "nothing-to-retire"
)

// GroupOutcome summarizes one AAA group on one device.
type GroupOutcome struct {
	Group           string        `json:"group"`
	Protocol        spec.Protocol `json:"protocol"`
	Candidates      []string      `json:"candidates"`
	Reclassified    []string      `json:"reclassified,omitempty"`
	Retiring        []string      `json:"retiring,omitempty"`
	PolicySatisfied bool          `json:"policy_satisfied"`
	Decision        Decision      `json:"decision"`
	Retired         []string      `json:"retired,omitempty"`
	Kept            []string      `json:"kept,omitempty"`
}

// DeviceResult is the record of one device's run, owned by its engine until
// the engine returns it.
type DeviceResult struct {
	Device   string `json:"device"`
	Address  string `json:"address"`
	Platform string `json:"platform"`
	State    State  `json:"state"`
	// FailedIn is the last state reached before a failure.
	FailedIn State  `json:"failed_in,omitempty"`
	Error    string `json:"error,omitempty"`
	Resumed  bool   `json:"resumed,omitempty"`

	Groups         []*GroupOutcome `json:"groups"`
	Probes         []*probe.Result `json:"probes"`
	AddCommands    []string        `json:"add_commands,omitempty"`
	RetireCommands []string        `json:"retire_commands,omitempty"`
	CleanupRecords []string        `json:"cleanup_records,omitempty"`
	Resolved       []string        `json:"resolved,omitempty"`
	Backups        []string        `json:"backups,omitempty"`
	Transcript     string          `json:"transcript,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`

	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// Group returns the outcome for the named group, or nil.
func (r *DeviceResult) Group(name string) *GroupOutcome {
	for _, g := range r.Groups {
		if g.Group == name {
			return g
		}
	}
	return nil
}

// PassedIn reports whether a probe in this result passed for a candidate of
// the named group.
func (r *DeviceResult) PassedIn(group string) bool {
	for _, p := range r.Probes {
		if p.Group == group && p.Outcome.Passed() {
			return true
		}
	}
	return false
}

// Skipped returns the result for a device that was never dispatched.
func Skipped(target *spec.DeviceTarget, reason string) *DeviceResult {
	now := time.Now()
	return &DeviceResult{
		Device:   target.Name,
		Address:  target.Address,
		Platform: target.Platform,
		State:    StateSkipped,
		Error:    reason,
		Start:    now,
		End:      now,
	}
}
