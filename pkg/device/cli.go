package device

import (
	"context"
	"fmt"
	"time"

	"github.com/newtron-network/newtauth/pkg/platform"
	"github.com/newtron-network/newtauth/pkg/util"
)

// CLI runs platform commands over a Session, recording each exchange in the
// device transcript.
type CLI struct {
	Device     string
	Platform   *platform.Platform
	Transcript *Transcript
	Timeout    time.Duration

	session Session
}

// NewCLI wraps an open session.
func NewCLI(device string, p *platform.Platform, s Session, tr *Transcript, timeout time.Duration) *CLI {
	if tr == nil {
		tr = NewTranscript(device)
	}
	return &CLI{Device: device, Platform: p, Transcript: tr, Timeout: timeout, session: s}
}

// Run sends one command with the given timeout and records it. Timeouts are
// returned through RawOutput.TimedOut.
func (c *CLI) Run(ctx context.Context, command string, timeout time.Duration) (*RawOutput, error) {
	out, err := c.session.Execute(ctx, command, c.Platform.Expect(), timeout)
	c.Transcript.Record(command, out)
	if err != nil {
		util.WithDevice(c.Device).Debugf("%s: %v", c.Transcript.Redact(command), err)
		return nil, err
	}
	return out, nil
}

func (c *CLI) run(ctx context.Context, command string) (string, error) {
	out, err := c.Run(ctx, command, c.Timeout)
	if err != nil {
		return "", err
	}
	if out.TimedOut {
		return out.Text, fmt.Errorf("%s: %q after %s: %w", c.Device, c.Transcript.Redact(command), c.Timeout, util.ErrCommandTimeout)
	}
	return out.Text, nil
}

// Show runs a read-only command and returns its output.
func (c *CLI) Show(ctx context.Context, command string) (string, error) {
	return c.run(ctx, command)
}

// RunningConfig returns the full running configuration.
func (c *CLI) RunningConfig(ctx context.Context) (string, error) {
	return c.Show(ctx, c.Platform.ShowRunning)
}

// AAAConfig returns the AAA-relevant part of the running configuration.
func (c *CLI) AAAConfig(ctx context.Context) (string, error) {
	return c.Show(ctx, c.Platform.ShowAAA)
}

// Configure enters configuration mode, sends each line, and leaves
// configuration mode. The first line answered with an error token stops the
// sequence with a *util.CommandError; configuration mode is exited either way.
func (c *CLI) Configure(ctx context.Context, lines []string) (err error) {
	if len(lines) == 0 {
		return nil
	}
	if _, err := c.run(ctx, c.Platform.ConfigEnter); err != nil {
		return err
	}
	defer func() {
		if _, exitErr := c.run(ctx, c.Platform.ConfigExit); exitErr != nil && err == nil {
			err = exitErr
		}
	}()

	for _, line := range lines {
		text, err := c.run(ctx, line)
		if err != nil {
			return err
		}
		if c.Platform.IsError(text) {
			return util.NewCommandError(c.Device, c.Transcript.Redact(line), text)
		}
	}
	return nil
}

// Save persists the running configuration.
func (c *CLI) Save(ctx context.Context) error {
	if c.Platform.SaveCommand == "" {
		return nil
	}
	text, err := c.run(ctx, c.Platform.SaveCommand)
	if err != nil {
		return err
	}
	if c.Platform.IsError(text) {
		return util.NewCommandError(c.Device, c.Platform.SaveCommand, text)
	}
	return nil
}

// Close ends the session.
func (c *CLI) Close() error {
	return c.session.Close()
}
