// Package device opens interactive CLI sessions to network devices and runs
// commands on them with expect-based completion. The SSH transport and the
// in-memory Simulator both satisfy Opener.
package device

import (
	"context"
	"regexp"
	"time"

	"github.com/newtron-network/newtauth/pkg/spec"
)

// RawOutput is the text a device returned for one command.
type RawOutput struct {
	Text string
	// TimedOut is set when no expect pattern matched before the deadline.
	// Text then holds whatever partial output arrived.
	TimedOut bool
	Duration time.Duration
}

// Session is an open interactive CLI session. One command is in flight at a
// time; implementations serialize concurrent callers.
type Session interface {
	// Execute sends command and blocks until the output since the command
	// matches one of expect, or timeout elapses. A timeout is reported through
	// RawOutput.TimedOut, not as an error. Transport loss returns a
	// *util.ConnectError.
	Execute(ctx context.Context, command string, expect []*regexp.Regexp, timeout time.Duration) (*RawOutput, error)
	Close() error
}

// Opener establishes sessions to device targets.
type Opener interface {
	Open(ctx context.Context, target *spec.DeviceTarget) (Session, error)
}
