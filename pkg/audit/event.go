// Package audit records who changed which device, when, and with what result.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is one audited device operation.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	RunID     string    `json:"run_id,omitempty"`
	Device    string    `json:"device"`
	Operation Operation `json:"operation"`
	// State is the device's terminal migration state, when there is one.
	State          string        `json:"state,omitempty"`
	Commands       []string      `json:"commands,omitempty"`
	CleanupRecords []string      `json:"cleanup_records,omitempty"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	DryRun         bool          `json:"dry_run"`
	Duration       time.Duration `json:"duration"`
}

// Operation categorizes audit events.
type Operation string

const (
	OpMigrate Operation = "migrate"
	OpResume  Operation = "resume"
	OpRestore Operation = "restore"
	OpResolve Operation = "cleanup.resolve"
)

// Filter defines criteria for querying audit events
type Filter struct {
	Device      string
	User        string
	RunID       string
	Operation   Operation
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(user, device string, op Operation) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		User:      user,
		Device:    device,
		Operation: op,
	}
}

// WithRun sets the run ID
func (e *Event) WithRun(runID string) *Event {
	e.RunID = runID
	return e
}

// WithState sets the terminal state
func (e *Event) WithState(state string) *Event {
	e.State = state
	return e
}

// WithCommands sets the (redacted) commands sent to the device
func (e *Event) WithCommands(commands ...string) *Event {
	e.Commands = append(e.Commands, commands...)
	return e
}

// WithCleanupRecords sets the IDs of cleanup records created
func (e *Event) WithCleanupRecords(ids []string) *Event {
	e.CleanupRecords = ids
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	e.Error = ""
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithDryRun marks events produced against the simulator
func (e *Event) WithDryRun(dryRun bool) *Event {
	e.DryRun = dryRun
	return e
}
