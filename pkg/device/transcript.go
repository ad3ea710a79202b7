package device

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Redacted replaces registered secret values in transcripts.
const Redacted = "<redacted>"

// TranscriptEntry is one command/response pair.
type TranscriptEntry struct {
	Time     time.Time
	Command  string
	Response string
	TimedOut bool
}

// Transcript records every command sent to one device and the response.
// Registered secrets are replaced before anything is stored.
type Transcript struct {
	Device string

	mu      sync.Mutex
	secrets []string
	entries []TranscriptEntry
}

// NewTranscript creates an empty transcript for device.
func NewTranscript(device string) *Transcript {
	return &Transcript{Device: device}
}

// AddSecret registers a value that must never appear in the transcript.
func (t *Transcript) AddSecret(values ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range values {
		if v != "" {
			t.secrets = append(t.secrets, v)
		}
	}
}

// Redact replaces every registered secret in s.
func (t *Transcript) Redact(s string) string {
	if t == nil {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.redactLocked(s)
}

func (t *Transcript) redactLocked(s string) string {
	for _, v := range t.secrets {
		s = strings.ReplaceAll(s, v, Redacted)
	}
	return s
}

// Record appends a command/response pair, redacted.
func (t *Transcript) Record(command string, out *RawOutput) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e := TranscriptEntry{Time: time.Now(), Command: t.redactLocked(command)}
	if out != nil {
		e.Response = t.redactLocked(out.Text)
		e.TimedOut = out.TimedOut
	}
	t.entries = append(t.entries, e)
}

// Entries returns a copy of the recorded entries.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// WriteTo writes the transcript in a plain "> command" / response layout.
func (t *Transcript) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range t.Entries() {
		suffix := ""
		if e.TimedOut {
			suffix = " [timed out]"
		}
		n, err := fmt.Fprintf(w, "%s > %s%s\n", e.Time.Format(time.RFC3339), e.Command, suffix)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if e.Response != "" {
			n, err = fmt.Fprintf(w, "%s\n", strings.TrimRight(e.Response, "\n"))
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// Save writes the transcript to path, creating parent directories.
func (t *Transcript) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()
	if _, err := t.WriteTo(f); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	return nil
}
