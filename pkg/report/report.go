// Package report aggregates per-device migration results into a run report
// and renders it as JSON, markdown, and a console table.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/newtron-network/newtauth/pkg/cli"
	"github.com/newtron-network/newtauth/pkg/engine"
	"github.com/newtron-network/newtauth/pkg/spec"
)

// DateTimeFormat is used for human-readable timestamps.
const DateTimeFormat = "2006-01-02 15:04:05 MST"

// RunReport is the outcome of one run across the device fleet.
type RunReport struct {
	RunID    string        `json:"run_id"`
	Policy   spec.Policy   `json:"policy"`
	DryRun   bool          `json:"dry_run"`
	Resume   bool          `json:"resume"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`

	Devices []*engine.DeviceResult `json:"devices"`
	Counts  map[engine.State]int   `json:"counts"`

	CleanupRecords []string `json:"cleanup_records,omitempty"`
	Backups        []string `json:"backups,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// New starts a report for a run.
func New(runID string, plan *spec.Plan) *RunReport {
	r := &RunReport{
		RunID:  runID,
		Start:  time.Now(),
		Counts: make(map[engine.State]int),
	}
	if plan != nil {
		r.Policy = plan.Policy
		r.DryRun = plan.DryRun
	}
	return r
}

// Warn adds a run-level warning.
func (r *RunReport) Warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Finish records the device results in input order and computes the totals.
func (r *RunReport) Finish(results []*engine.DeviceResult) {
	r.End = time.Now()
	r.Duration = r.End.Sub(r.Start)
	r.Devices = results
	r.Counts = make(map[engine.State]int)
	r.CleanupRecords = nil
	r.Backups = nil
	for _, d := range results {
		r.Counts[d.State]++
		r.CleanupRecords = append(r.CleanupRecords, d.CleanupRecords...)
		r.Backups = append(r.Backups, d.Backups...)
	}
}

// Count returns the number of devices that ended in s.
func (r *RunReport) Count(s engine.State) int {
	return r.Counts[s]
}

// NeedsAttention reports whether any device failed or was skipped.
func (r *RunReport) NeedsAttention() bool {
	return r.Counts[engine.StateFailed] > 0 || r.Counts[engine.StateSkipped] > 0
}

// Save writes report.json and report.md into dir.
func (r *RunReport) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := r.WriteJSON(filepath.Join(dir, "report.json")); err != nil {
		return err
	}
	return r.WriteMarkdown(filepath.Join(dir, "report.md"))
}

// WriteJSON writes the machine-readable report.
func (r *RunReport) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a report written by WriteJSON.
func Load(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &r, nil
}

// WriteMarkdown writes the human-readable report.
func (r *RunReport) WriteMarkdown(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r.renderMarkdown(f)
	return nil
}

func (r *RunReport) renderMarkdown(w io.Writer) {
	fmt.Fprintf(w, "# newtauth run %s\n\n", r.RunID)
	mode := "live"
	if r.DryRun {
		mode = "dry run (simulator)"
	}
	if r.Resume {
		mode += ", resume cleanup"
	}
	fmt.Fprintf(w, "- Started: %s\n- Duration: %s\n- Policy: %s\n- Mode: %s\n\n",
		r.Start.Format(DateTimeFormat), r.Duration.Round(time.Second), r.Policy, mode)

	fmt.Fprintln(w, "| State | Devices |")
	fmt.Fprintln(w, "|-------|---------|")
	for _, s := range engine.TerminalStates {
		fmt.Fprintf(w, "| %s | %d |\n", s, r.Counts[s])
	}

	fmt.Fprintln(w, "\n## Devices")
	fmt.Fprintln(w, "| Device | Platform | State | Probes | Cleanup | Detail |")
	fmt.Fprintln(w, "|--------|----------|-------|--------|---------|--------|")
	for _, d := range r.Devices {
		fmt.Fprintf(w, "| %s | %s | %s | %s | %d | %s |\n",
			d.Device, d.Platform, d.State, probeSummary(d), len(d.CleanupRecords), mdEscape(detail(d)))
	}

	var kept []*engine.DeviceResult
	for _, d := range r.Devices {
		if len(d.CleanupRecords) > 0 {
			kept = append(kept, d)
		}
	}
	if len(kept) > 0 {
		fmt.Fprintln(w, "\n## Deferred retirements")
		for _, d := range kept {
			for _, g := range d.Groups {
				if len(g.Kept) > 0 {
					fmt.Fprintf(w, "- %s group %s kept %s\n", d.Device, g.Group, strings.Join(g.Kept, ", "))
				}
			}
		}
	}

	var failed []*engine.DeviceResult
	for _, d := range r.Devices {
		if d.State == engine.StateFailed {
			failed = append(failed, d)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(w, "\n## Failures")
		for _, d := range failed {
			fmt.Fprintf(w, "### %s\nFailed in %s: %s\n\n", d.Device, d.FailedIn, d.Error)
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "\n## Warnings")
		for _, msg := range r.Warnings {
			fmt.Fprintf(w, "- %s\n", msg)
		}
	}
}

// WriteTable prints the console summary: one row per device, then the
// counts by terminal state.
func (r *RunReport) WriteTable(w io.Writer) {
	devices := make([]*engine.DeviceResult, len(r.Devices))
	copy(devices, r.Devices)
	sort.SliceStable(devices, func(i, j int) bool {
		return stateRank(devices[i].State) < stateRank(devices[j].State)
	})

	t := cli.NewTableTo(w, "DEVICE", "PLATFORM", "STATE", "PROBES", "DETAIL")
	for _, d := range devices {
		t.Row(d.Device, d.Platform, ColorState(d.State), probeSummary(d), detail(d))
	}
	t.Flush()

	var parts []string
	for _, s := range engine.TerminalStates {
		if n := r.Counts[s]; n > 0 {
			parts = append(parts, ColorState(s)+fmt.Sprintf(" %d", n))
		}
	}
	fmt.Fprintf(w, "\n%s: %d devices", cli.Bold("run "+r.RunID), len(r.Devices))
	if len(parts) > 0 {
		fmt.Fprintf(w, ": %s", strings.Join(parts, ", "))
	}
	fmt.Fprintf(w, "  (%s)\n", r.Duration.Round(time.Second))
	if n := len(r.CleanupRecords); n > 0 {
		fmt.Fprintf(w, "%d cleanup record(s) written; finish them with --resume-cleanup\n", n)
	}
	for _, msg := range r.Warnings {
		fmt.Fprintf(w, "%s %s\n", cli.Yellow("warning:"), msg)
	}
}

// ColorState renders a state for the terminal.
func ColorState(s engine.State) string {
	switch s {
	case engine.StateRemovedOld:
		return cli.Status(string(s), cli.LevelOK)
	case engine.StateKeptOld, engine.StateSkipped:
		return cli.Status(string(s), cli.LevelWarn)
	case engine.StateFailed:
		return cli.Status(string(s), cli.LevelFail)
	}
	return string(s)
}

func stateRank(s engine.State) int {
	for i, t := range engine.TerminalStates {
		if s == t {
			return i
		}
	}
	return len(engine.TerminalStates)
}

// probeSummary renders probe outcomes as "2 pass, 1 fail".
func probeSummary(d *engine.DeviceResult) string {
	if len(d.Probes) == 0 {
		return "-"
	}
	counts := make(map[string]int)
	var order []string
	for _, p := range d.Probes {
		o := string(p.Outcome)
		if counts[o] == 0 {
			order = append(order, o)
		}
		counts[o]++
	}
	parts := make([]string, len(order))
	for i, o := range order {
		parts[i] = fmt.Sprintf("%d %s", counts[o], o)
	}
	return strings.Join(parts, ", ")
}

func detail(d *engine.DeviceResult) string {
	switch d.State {
	case engine.StateFailed:
		return fmt.Sprintf("in %s: %s", d.FailedIn, d.Error)
	case engine.StateSkipped:
		return d.Error
	}
	var parts []string
	for _, g := range d.Groups {
		switch {
		case len(g.Kept) > 0:
			parts = append(parts, fmt.Sprintf("%s kept %s", g.Group, strings.Join(g.Kept, ",")))
		case len(g.Retired) > 0:
			parts = append(parts, fmt.Sprintf("%s retired %s", g.Group, strings.Join(g.Retired, ",")))
		case g.Decision == engine.DecisionNothing:
			parts = append(parts, g.Group+" nothing to retire")
		}
	}
	return strings.Join(parts, "; ")
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
