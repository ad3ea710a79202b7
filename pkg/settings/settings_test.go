package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettings_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/op")
	s := &Settings{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ledger", s.GetLedgerPath(), "/home/op/.newtauth/ledger.jsonl"},
		{"backups", s.GetBackupDir(), "/home/op/.newtauth/backups"},
		{"runs", s.GetRunsDir(), "/home/op/.newtauth/runs"},
		{"audit", s.GetAuditLog(), "/home/op/.newtauth/audit.log"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s default = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if s.GetConcurrency() != DefaultConcurrency {
		t.Errorf("GetConcurrency() = %d, want %d", s.GetConcurrency(), DefaultConcurrency)
	}
}

func TestSettings_Set(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		check   func(*Settings) bool
		wantErr bool
	}{
		{"ledger_path", "/var/lib/newtauth/ledger.jsonl", func(s *Settings) bool { return s.GetLedgerPath() == "/var/lib/newtauth/ledger.jsonl" }, false},
		{"backup_dir", "/srv/backups", func(s *Settings) bool { return s.GetBackupDir() == "/srv/backups" }, false},
		{"lock_redis", "10.0.0.5:6379", func(s *Settings) bool { return s.LockRedis == "10.0.0.5:6379" }, false},
		{"known_hosts", "/etc/ssh/ssh_known_hosts", func(s *Settings) bool { return s.KnownHosts == "/etc/ssh/ssh_known_hosts" }, false},
		{"concurrency", "12", func(s *Settings) bool { return s.GetConcurrency() == 12 }, false},
		{"concurrency", "many", nil, true},
		{"concurrency", "-1", nil, true},
		{"probe_rate", "2.5", func(s *Settings) bool { return s.ProbeRate == 2.5 }, false},
		{"probe_rate", "fast", nil, true},
		{"colour", "blue", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			s := &Settings{}
			err := s.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(s) {
				t.Errorf("Set(%q, %q) not applied: %+v", tt.key, tt.value, s)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	if len(keys) != len(setters) {
		t.Errorf("Keys() = %v", keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Errorf("Keys() not sorted: %v", keys)
		}
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{LedgerPath: "/x", Concurrency: 9, LockRedis: "r:6379"}
	s.Clear()
	if *s != (Settings{}) {
		t.Errorf("Clear() left %+v", s)
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	original := &Settings{
		LedgerPath:  "/var/lib/newtauth/ledger.jsonl",
		BackupDir:   "/srv/backups",
		Concurrency: 8,
		ProbeRate:   1.5,
		LockRedis:   "10.0.0.5:6379",
	}
	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if *loaded != *original {
		t.Errorf("loaded = %+v, want %+v", loaded, original)
	}
}

func TestSettings_LoadNonExistent(t *testing.T) {
	s, err := LoadFrom("/nonexistent/path/settings.json")
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if s == nil || *s != (Settings{}) {
		t.Errorf("LoadFrom() non-existent = %+v, want empty", s)
	}
}

func TestSettings_LoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("invalid json {"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() with invalid JSON should error")
	}
}

func TestSettings_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "settings.json")
	s := &Settings{Concurrency: 3}
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() should create directories: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("SaveTo() should have created the file")
	}
}

func TestLoad_UsesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	s := &Settings{LockRedis: "localhost:6379"}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".newtauth", "settings.json")); err != nil {
		t.Fatalf("settings not written under HOME: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.LockRedis != "localhost:6379" {
		t.Errorf("LockRedis = %q", loaded.LockRedis)
	}
}
