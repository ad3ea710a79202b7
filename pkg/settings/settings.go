// Package settings manages persistent operator defaults for the newtauth CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Settings holds persistent operator preferences. Command-line flags
// override every field.
type Settings struct {
	// LedgerPath is the cleanup ledger file.
	LedgerPath string `json:"ledger_path,omitempty"`

	// BackupDir holds configuration snapshots and transcripts.
	BackupDir string `json:"backup_dir,omitempty"`

	// RunsDir holds one report directory per run.
	RunsDir string `json:"runs_dir,omitempty"`

	// AuditLog is the audit log file.
	AuditLog string `json:"audit_log,omitempty"`

	// Concurrency is the default number of devices migrated at once.
	Concurrency int `json:"concurrency,omitempty"`

	// ProbeRate caps probes per second across the run (0 = unpaced).
	ProbeRate float64 `json:"probe_rate,omitempty"`

	// LockRedis is the redis address used for per-device locks.
	LockRedis string `json:"lock_redis,omitempty"`

	// KnownHosts is the SSH known_hosts file used for host-key checking.
	KnownHosts string `json:"known_hosts,omitempty"`
}

// DefaultConcurrency is used when neither a flag nor a setting is given.
const DefaultConcurrency = 5

// Home returns the newtauth state directory.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".newtauth"
	}
	return filepath.Join(home, ".newtauth")
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	return filepath.Join(Home(), "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetLedgerPath returns the ledger path (with fallback)
func (s *Settings) GetLedgerPath() string {
	if s.LedgerPath != "" {
		return s.LedgerPath
	}
	return filepath.Join(Home(), "ledger.jsonl")
}

// GetBackupDir returns the backup directory (with fallback)
func (s *Settings) GetBackupDir() string {
	if s.BackupDir != "" {
		return s.BackupDir
	}
	return filepath.Join(Home(), "backups")
}

// GetRunsDir returns the runs directory (with fallback)
func (s *Settings) GetRunsDir() string {
	if s.RunsDir != "" {
		return s.RunsDir
	}
	return filepath.Join(Home(), "runs")
}

// GetAuditLog returns the audit log path (with fallback)
func (s *Settings) GetAuditLog() string {
	if s.AuditLog != "" {
		return s.AuditLog
	}
	return filepath.Join(Home(), "audit.log")
}

// GetConcurrency returns the default concurrency (with fallback)
func (s *Settings) GetConcurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return DefaultConcurrency
}

// setters maps each settable key to its parser.
var setters = map[string]func(s *Settings, v string) error{
	"ledger_path": func(s *Settings, v string) error { s.LedgerPath = v; return nil },
	"backup_dir":  func(s *Settings, v string) error { s.BackupDir = v; return nil },
	"runs_dir":    func(s *Settings, v string) error { s.RunsDir = v; return nil },
	"audit_log":   func(s *Settings, v string) error { s.AuditLog = v; return nil },
	"lock_redis":  func(s *Settings, v string) error { s.LockRedis = v; return nil },
	"known_hosts": func(s *Settings, v string) error { s.KnownHosts = v; return nil },
	"concurrency": func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("concurrency must be a non-negative integer, got %q", v)
		}
		s.Concurrency = n
		return nil
	},
	"probe_rate": func(s *Settings, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("probe_rate must be a non-negative number, got %q", v)
		}
		s.ProbeRate = f
		return nil
	},
}

// Keys lists the settable keys.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns a setting by key.
func (s *Settings) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (valid: %v)", key, Keys())
	}
	return set(s, value)
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
