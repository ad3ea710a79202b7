// Package ledger persists deferred retirement work. The ledger is a
// JSON-lines file written append-only: records are never rewritten in place,
// and resolving a record appends a copy with ResolvedAt set. When loading,
// the last line for a key wins.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/newtauth/pkg/spec"
	"github.com/newtron-network/newtauth/pkg/util"
)

// Server is a server identity stored in a record.
type Server struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ID returns the name@address identity.
func (s Server) ID() string {
	return s.Name + "@" + s.Address
}

// Record is one deferred retirement: the entry that was kept on a device and
// what is needed to finish removing it.
type Record struct {
	ID       string        `json:"id"`
	Device   string        `json:"device"`
	Address  string        `json:"address"`
	Platform string        `json:"platform"`
	Group    string        `json:"group"`
	Protocol spec.Protocol `json:"protocol"`
	// Entry is the retiring server kept on the device.
	Entry Server `json:"entry"`
	// Added lists the candidate servers the creating run introduced.
	Added  []Server `json:"added"`
	Reason string   `json:"reason"`
	// ProbePassed is set when the creating run had a policy-satisfying probe
	// pass for the group and retirement was deferred for another reason
	// (verification mismatch). Resume trusts that pass instead of re-probing.
	ProbePassed bool       `json:"probe_passed"`
	RunID       string     `json:"run_id"`
	Remediation []string   `json:"remediation"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at"`
}

// Key identifies a record: device plus retiring entry.
func (r *Record) Key() string {
	return Key(r.Device, r.Entry.ID())
}

// Key builds a record key from a device name and entry identity.
func Key(device, entryID string) string {
	return device + "|" + entryID
}

// Resolved reports whether the record has been resolved.
func (r *Record) Resolved() bool {
	return r.ResolvedAt != nil
}

// Ledger is a JSON-lines cleanup ledger. Safe for concurrent use.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// Open returns the ledger at path, creating its directory.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, util.NewLedgerIOError(path, err)
	}
	return &Ledger{path: path}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Record persists rec. If the key already has an unresolved record, nothing
// is written and the existing record's ID is copied into rec.
func (l *Ledger) Record(rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	latest, _, err := l.load()
	if err != nil {
		return util.NewLedgerIOError(l.path, err)
	}
	if prev, ok := latest[rec.Key()]; ok && !prev.Resolved() {
		rec.ID = prev.ID
		return nil
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ResolvedAt = nil
	return l.append(rec)
}

// Resolve marks the record for device and entry resolved. Resolving an
// unknown or already resolved key is a no-op. Returns true when a record was
// resolved by this call.
func (l *Ledger) Resolve(device, entryID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	latest, _, err := l.load()
	if err != nil {
		return false, util.NewLedgerIOError(l.path, err)
	}
	prev, ok := latest[Key(device, entryID)]
	if !ok || prev.Resolved() {
		return false, nil
	}

	resolved := *prev
	now := time.Now().UTC()
	resolved.ResolvedAt = &now
	if err := l.append(&resolved); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the latest state of every record, in first-recorded order.
func (l *Ledger) List() ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	latest, order, err := l.load()
	if err != nil {
		return nil, util.NewLedgerIOError(l.path, err)
	}
	out := make([]*Record, 0, len(order))
	for _, k := range order {
		out = append(out, latest[k])
	}
	return out, nil
}

// Unresolved returns the records still awaiting retirement.
func (l *Ledger) Unresolved() ([]*Record, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, r := range all {
		if !r.Resolved() {
			out = append(out, r)
		}
	}
	return out, nil
}

// Get returns the latest record for device and entry, or nil.
func (l *Ledger) Get(device, entryID string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	latest, _, err := l.load()
	if err != nil {
		return nil, util.NewLedgerIOError(l.path, err)
	}
	return latest[Key(device, entryID)], nil
}

// append writes one line with a single write call and syncs it.
func (l *Ledger) append(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return util.NewLedgerIOError(l.path, fmt.Errorf("encoding record: %w", err))
	}
	data = append(data, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return util.NewLedgerIOError(l.path, err)
	}
	// A torn last line from an interrupted write must not swallow this record.
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			data = append([]byte{'\n'}, data...)
		}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return util.NewLedgerIOError(l.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return util.NewLedgerIOError(l.path, err)
	}
	if err := f.Close(); err != nil {
		return util.NewLedgerIOError(l.path, err)
	}
	return nil
}

func (l *Ledger) load() (map[string]*Record, []string, error) {
	latest := make(map[string]*Record)
	var order []string

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return latest, nil, nil
		}
		return nil, nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			util.Warnf("ledger: skipping malformed record at line %d: %v", lineNum, err)
			continue
		}
		k := rec.Key()
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = &rec
	}
	return latest, order, scanner.Err()
}
