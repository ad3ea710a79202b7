package aaa

import (
	"fmt"
	"strings"
)

// Redacted replaces secret values in displayed commands.
const Redacted = "<redacted>"

// Command is one configuration line. Text is sent to the device; Display is
// the same line with secret values replaced, safe for previews and records.
type Command struct {
	Text    string `json:"-"`
	Display string `json:"command"`
}

// Operation names the kind of change a ChangeSet performs.
type Operation string

const (
	OpAdd    Operation = "add"
	OpRetire Operation = "retire"
)

// ChangeSet is an ordered list of configuration commands for one device.
type ChangeSet struct {
	Device    string    `json:"device"`
	Operation Operation `json:"operation"`
	Commands  []Command `json:"commands"`
}

// NewChangeSet creates an empty change set.
func NewChangeSet(device string, op Operation) *ChangeSet {
	return &ChangeSet{Device: device, Operation: op}
}

// Add appends lines that carry no secret.
func (cs *ChangeSet) Add(lines ...string) {
	for _, l := range lines {
		cs.Commands = append(cs.Commands, Command{Text: l, Display: l})
	}
}

// AddSecret appends lines, redacting secret in their display form.
func (cs *ChangeSet) AddSecret(secret string, lines ...string) {
	for _, l := range lines {
		display := l
		if secret != "" {
			display = strings.ReplaceAll(l, secret, Redacted)
		}
		cs.Commands = append(cs.Commands, Command{Text: l, Display: display})
	}
}

// IsEmpty returns true if there are no commands.
func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.Commands) == 0
}

// Lines returns the commands to send, in order.
func (cs *ChangeSet) Lines() []string {
	out := make([]string, len(cs.Commands))
	for i, c := range cs.Commands {
		out[i] = c.Text
	}
	return out
}

// DisplayLines returns the redacted commands, in order.
func (cs *ChangeSet) DisplayLines() []string {
	out := make([]string, len(cs.Commands))
	for i, c := range cs.Commands {
		out[i] = c.Display
	}
	return out
}

// String returns a human-readable representation of the commands.
func (cs *ChangeSet) String() string {
	if cs.IsEmpty() {
		return "No changes"
	}

	tag := "[ADD]"
	if cs.Operation == OpRetire {
		tag = "[DEL]"
	}
	var sb strings.Builder
	for _, c := range cs.Commands {
		sb.WriteString(fmt.Sprintf("  %s %s\n", tag, c.Display))
	}
	return sb.String()
}

// Preview returns a formatted preview of the commands.
func (cs *ChangeSet) Preview() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Operation: %s\n", cs.Operation))
	sb.WriteString(fmt.Sprintf("Device: %s\n", cs.Device))
	sb.WriteString(fmt.Sprintf("Commands:\n%s", cs.String()))
	return sb.String()
}
