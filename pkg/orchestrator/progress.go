package orchestrator

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/newtron-network/newtauth/pkg/cli"
	"github.com/newtron-network/newtauth/pkg/engine"
	"github.com/newtron-network/newtauth/pkg/report"
	"github.com/newtron-network/newtauth/pkg/spec"
)

// Progress receives lifecycle callbacks during a run. DeviceStart and
// DeviceEnd are called from worker goroutines.
type Progress interface {
	RunStart(runID string, targets []*spec.DeviceTarget, concurrency int)
	DeviceStart(target *spec.DeviceTarget, index, total int)
	DeviceEnd(result *engine.DeviceResult, index, total int)
	RunEnd(r *report.RunReport)
}

type nopProgress struct{}

func (nopProgress) RunStart(string, []*spec.DeviceTarget, int) {}
func (nopProgress) DeviceStart(*spec.DeviceTarget, int, int) {}
func (nopProgress) DeviceEnd(*engine.DeviceResult, int, int) {}
func (nopProgress) RunEnd(*report.RunReport) {}

// consoleProgress is an append-only terminal progress reporter. Lines are
// printed as devices finish, in completion order.
type consoleProgress struct {
	W       io.Writer
	Verbose bool

	mu       sync.Mutex
	dotWidth int
	done     int
}

// NewConsoleProgress creates a console reporter writing to stdout.
func NewConsoleProgress(verbose bool) Progress {
	return &consoleProgress{W: os.Stdout, Verbose: verbose}
}

func (p *consoleProgress) RunStart(runID string, targets []*spec.DeviceTarget, concurrency int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	maxName := 0
	for _, t := range targets {
		if len(t.Name) > maxName {
			maxName = len(t.Name)
		}
	}
	p.dotWidth = maxName + 6
	p.done = 0

	fmt.Fprintf(p.W, "\n%s, %d devices, concurrency %d\n\n", cli.Bold("newtauth: run "+runID), len(targets), concurrency)
}

func (p *consoleProgress) DeviceStart(target *spec.DeviceTarget, index, total int) {
	if !p.Verbose {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.W, "  %s  %s\n", cli.Dim("start"), target.Name)
}

func (p *consoleProgress) DeviceEnd(result *engine.DeviceResult, index, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	tag := fmt.Sprintf("[%d/%d]", p.done, total)
	padded := cli.DotPad(result.Device, p.dotWidth)

	switch result.State {
	case engine.StateFailed:
		fmt.Fprintf(p.W, "  %-7s %s %s  (%s)\n", tag, padded, report.ColorState(result.State), formatDuration(result.Duration))
		fmt.Fprintf(p.W, "          %s\n", cli.Dim(fmt.Sprintf("in %s: %s", result.FailedIn, result.Error)))
	case engine.StateSkipped:
		fmt.Fprintf(p.W, "  %-7s %s %s%s\n", tag, padded, report.ColorState(result.State), cli.Dim("  ("+result.Error+")"))
	default:
		fmt.Fprintf(p.W, "  %-7s %s %s  (%s)\n", tag, padded, report.ColorState(result.State), formatDuration(result.Duration))
	}

	if p.Verbose {
		for _, w := range result.Warnings {
			fmt.Fprintf(p.W, "          %s\n", cli.Yellow(w))
		}
	}
}

func (p *consoleProgress) RunEnd(r *report.RunReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.W, "\n---\n")
	r.WriteTable(p.W)
	fmt.Fprintln(p.W)
}

// formatDuration formats a duration in a compact form.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if s == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
