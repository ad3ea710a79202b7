package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/newtron-network/newtauth/pkg/util"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger", "cleanup.jsonl"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func sampleRecord(device string) *Record {
	return &Record{
		Device:      device,
		Address:     "192.0.2.10",
		Platform:    "ios",
		Group:       "TAC",
		Protocol:    "tacacs+",
		Entry:       Server{Name: "OLD1", Address: "10.0.0.1"},
		Added:       []Server{{Name: "NEW1", Address: "10.9.0.1"}},
		Reason:      "no candidate passed probe",
		RunID:       "run-1",
		Remediation: []string{"aaa group server tacacs+ TAC", "no server name OLD1", "exit"},
	}
}

func TestLedger_RecordAndList(t *testing.T) {
	l := newLedger(t)

	rec := sampleRecord("edge1")
	if err := l.Record(rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Errorf("ID/CreatedAt not assigned: %+v", rec)
	}

	all, err := l.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List() = %d records, want 1", len(all))
	}
	got := all[0]
	if got.Key() != "edge1|OLD1@10.0.0.1" {
		t.Errorf("Key() = %q", got.Key())
	}
	if len(got.Remediation) != 3 || got.Added[0].ID() != "NEW1@10.9.0.1" {
		t.Errorf("record round trip lost fields: %+v", got)
	}
}

func TestLedger_RecordDuplicateIsNoop(t *testing.T) {
	l := newLedger(t)

	first := sampleRecord("edge1")
	if err := l.Record(first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	second := sampleRecord("edge1")
	second.RunID = "run-2"
	if err := l.Record(second); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate record got new ID %q, want %q", second.ID, first.ID)
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Errorf("ledger has %d lines, want 1", n)
	}
}

func TestLedger_Resolve(t *testing.T) {
	l := newLedger(t)
	if err := l.Record(sampleRecord("edge1")); err != nil {
		t.Fatal(err)
	}

	ok, err := l.Resolve("edge1", "OLD1@10.0.0.1")
	if err != nil || !ok {
		t.Fatalf("Resolve = %v, %v; want true, nil", ok, err)
	}

	// Second resolve is a no-op.
	ok, err = l.Resolve("edge1", "OLD1@10.0.0.1")
	if err != nil || ok {
		t.Errorf("second Resolve = %v, %v; want false, nil", ok, err)
	}
	// Unknown key is a no-op.
	ok, err = l.Resolve("edge9", "OLD1@10.0.0.1")
	if err != nil || ok {
		t.Errorf("unknown Resolve = %v, %v; want false, nil", ok, err)
	}

	unresolved, err := l.Unresolved()
	if err != nil {
		t.Fatal(err)
	}
	if len(unresolved) != 0 {
		t.Errorf("Unresolved() = %d, want 0", len(unresolved))
	}
	all, _ := l.List()
	if len(all) != 1 || !all[0].Resolved() {
		t.Errorf("List() = %+v", all)
	}

	data, _ := os.ReadFile(l.Path())
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("ledger has %d lines, want 2 (append-only)", n)
	}
}

func TestLedger_RecordAfterResolve(t *testing.T) {
	l := newLedger(t)
	first := sampleRecord("edge1")
	l.Record(first)
	l.Resolve("edge1", first.Entry.ID())

	again := sampleRecord("edge1")
	if err := l.Record(again); err != nil {
		t.Fatal(err)
	}
	if again.ID == first.ID {
		t.Error("a new record after resolution should get a new ID")
	}
	unresolved, _ := l.Unresolved()
	if len(unresolved) != 1 {
		t.Errorf("Unresolved() = %d, want 1", len(unresolved))
	}
}

func TestLedger_MalformedLinesSkipped(t *testing.T) {
	l := newLedger(t)
	if err := l.Record(sampleRecord("edge1")); err != nil {
		t.Fatal(err)
	}

	// Simulate a torn write.
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"id":"x","device":"ed`)
	f.Close()

	if err := l.Record(sampleRecord("edge2")); err != nil {
		t.Fatal(err)
	}
	all, err := l.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() = %d records, want 2", len(all))
	}
}

func TestLedger_ConcurrentRecord(t *testing.T) {
	l := newLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Two writers per device race on the same key.
			if err := l.Record(sampleRecord(fmt.Sprintf("edge%d", i/2))); err != nil {
				t.Errorf("Record: %v", err)
			}
		}(i)
	}
	wg.Wait()

	all, err := l.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 10 {
		t.Errorf("List() = %d records, want 10", len(all))
	}
}

func TestLedger_IOError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(filepath.Join(blocker, "cleanup.jsonl")); !errors.Is(err, util.ErrLedgerIO) {
		t.Errorf("Open under a file = %v, want ErrLedgerIO", err)
	}

	l := &Ledger{path: filepath.Join(blocker, "cleanup.jsonl")}
	err := l.Record(sampleRecord("edge1"))
	var lerr *util.LedgerIOError
	if !errors.As(err, &lerr) {
		t.Errorf("Record = %v, want *util.LedgerIOError", err)
	}
}
