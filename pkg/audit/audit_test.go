package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEvent_New(t *testing.T) {
	event := NewEvent("alice", "edge1", OpMigrate)

	if event.User != "alice" {
		t.Errorf("User = %q, want %q", event.User, "alice")
	}
	if event.Device != "edge1" {
		t.Errorf("Device = %q, want %q", event.Device, "edge1")
	}
	if event.Operation != OpMigrate {
		t.Errorf("Operation = %q, want %q", event.Operation, OpMigrate)
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
	if other := NewEvent("alice", "edge1", OpMigrate); other.ID == event.ID {
		t.Error("event IDs should be unique")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestEvent_Chaining(t *testing.T) {
	event := NewEvent("alice", "edge1", OpMigrate).
		WithRun("run-1").
		WithState("KEPT_OLD").
		WithCommands("aaa group server tacacs+ G", "server name S1").
		WithCleanupRecords([]string{"rec-1"}).
		WithSuccess().
		WithDuration(time.Second).
		WithDryRun(true)

	if event.RunID != "run-1" || event.State != "KEPT_OLD" {
		t.Errorf("RunID = %q State = %q", event.RunID, event.State)
	}
	if len(event.Commands) != 2 {
		t.Errorf("Expected 2 commands, got %d", len(event.Commands))
	}
	if len(event.CleanupRecords) != 1 {
		t.Errorf("CleanupRecords = %v", event.CleanupRecords)
	}
	if !event.Success {
		t.Error("Success should be true")
	}
	if event.Duration != time.Second {
		t.Errorf("Duration = %v", event.Duration)
	}
	if !event.DryRun {
		t.Error("DryRun should be true")
	}
}

func TestEvent_WithError(t *testing.T) {
	event := NewEvent("alice", "edge1", OpMigrate).WithError(errors.New("connect refused"))
	if event.Success {
		t.Error("Success should be false")
	}
	if event.Error != "connect refused" {
		t.Errorf("Error = %q", event.Error)
	}

	event2 := NewEvent("alice", "edge1", OpMigrate).WithError(nil)
	if event2.Success {
		t.Error("Success should be false even with nil error")
	}
	if event2.Error != "" {
		t.Errorf("Error should be empty with nil error, got %q", event2.Error)
	}
}

func newLogger(t *testing.T, rotation RotationConfig) (*FileLogger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(logPath, rotation)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger, logPath
}

func TestFileLogger_Basic(t *testing.T) {
	logger, _ := newLogger(t, RotationConfig{})

	event := NewEvent("alice", "edge1", OpMigrate).WithRun("run-1").WithSuccess()
	if err := logger.Log(event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].ID != event.ID || events[0].RunID != "run-1" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestFileLogger_QueryFilters(t *testing.T) {
	logger, _ := newLogger(t, RotationConfig{})

	events := []*Event{
		NewEvent("alice", "edge1", OpMigrate).WithRun("run-1").WithSuccess(),
		NewEvent("bob", "edge1", OpResume).WithRun("run-2").WithSuccess(),
		NewEvent("alice", "edge2", OpMigrate).WithRun("run-1").WithError(errors.New("failed")),
		NewEvent("carol", "edge3", OpRestore).WithSuccess(),
	}
	for _, e := range events {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"by user", Filter{User: "alice"}, 2},
		{"by device", Filter{Device: "edge1"}, 2},
		{"by run", Filter{RunID: "run-1"}, 2},
		{"by operation", Filter{Operation: OpMigrate}, 2},
		{"success only", Filter{SuccessOnly: true}, 3},
		{"failure only", Filter{FailureOnly: true}, 1},
		{"limit", Filter{Limit: 2}, 2},
		{"offset", Filter{Offset: 3}, 1},
		{"offset past end", Filter{Offset: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := logger.Query(tt.filter)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(results) != tt.want {
				t.Errorf("got %d events, want %d", len(results), tt.want)
			}
		})
	}
}

func TestFileLogger_QueryNewestFirst(t *testing.T) {
	logger, _ := newLogger(t, RotationConfig{})
	for _, d := range []string{"edge1", "edge2", "edge3"} {
		if err := logger.Log(NewEvent("alice", d, OpMigrate)); err != nil {
			t.Fatal(err)
		}
	}

	results, err := logger.Query(Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Device != "edge3" {
		t.Errorf("newest event = %+v, want edge3", results)
	}
}

func TestFileLogger_QueryTimeFilter(t *testing.T) {
	logger, _ := newLogger(t, RotationConfig{})
	logger.Log(NewEvent("alice", "edge1", OpMigrate).WithSuccess())

	results, _ := logger.Query(Filter{
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	})
	if len(results) != 1 {
		t.Errorf("Expected 1 event in time range, got %d", len(results))
	}

	results, _ = logger.Query(Filter{StartTime: time.Now().Add(time.Hour)})
	if len(results) != 0 {
		t.Errorf("Expected 0 events outside time range, got %d", len(results))
	}
}

func TestFileLogger_CreatesDirectories(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "audit.log")
	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger should create directories: %v", err)
	}
	logger.Close()
}

func TestFileLogger_OpenError(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	if err := os.Mkdir(logPath, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileLogger(logPath, RotationConfig{}); err == nil {
		t.Error("NewFileLogger should fail when log path is a directory")
	}
}

func TestFileLogger_QueryMissingFile(t *testing.T) {
	logger, logPath := newLogger(t, RotationConfig{})
	os.Remove(logPath)

	results, err := logger.Query(Filter{})
	if err != nil {
		t.Errorf("Query on missing file should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected 0 events, got %d", len(results))
	}
}

func TestFileLogger_QueryMalformedJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	content := `{"user":"alice","device":"edge1","operation":"migrate","success":true}
invalid json line
{"user":"bob","device":"edge2","operation":"migrate","success":true}
`
	if err := os.WriteFile(logPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	results, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 valid events, got %d", len(results))
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	logger, logPath := newLogger(t, RotationConfig{MaxSize: 100, MaxBackups: 2})

	for i := 0; i < 10; i++ {
		if err := logger.Log(NewEvent("alice", "edge1", OpMigrate).WithSuccess()); err != nil {
			t.Fatalf("Log failed on iteration %d: %v", i, err)
		}
	}

	matches, err := filepath.Glob(logPath + ".*")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Error("Expected rotation to create backup files")
	}
	if len(matches) > 2 {
		t.Errorf("Expected at most 2 backup files, got %d", len(matches))
	}
}

func TestDefaultLogger(t *testing.T) {
	SetDefaultLogger(nil)
	if err := Log(NewEvent("test", "edge1", OpMigrate)); err != nil {
		t.Errorf("Log with nil default should not error: %v", err)
	}
	if results, err := Query(Filter{}); err != nil || len(results) != 0 {
		t.Errorf("Query with nil default = %v, %v", results, err)
	}

	logger, _ := newLogger(t, RotationConfig{})
	SetDefaultLogger(logger)
	defer SetDefaultLogger(nil)

	if err := Log(NewEvent("alice", "edge1", OpMigrate).WithSuccess()); err != nil {
		t.Errorf("Log failed: %v", err)
	}
	results, err := Query(Filter{})
	if err != nil || len(results) != 1 {
		t.Errorf("Query = %d events, %v; want 1", len(results), err)
	}
}
