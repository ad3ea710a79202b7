package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "DEVICE", "STATE")
	tbl.Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}
}

func TestTable_Rows(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "DEVICE", "STATE")
	tbl.Row("edge1", "REMOVED_OLD")
	tbl.Row("core-router-2", "KEPT_OLD")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "DEVICE") || !strings.Contains(lines[1], "------") {
		t.Errorf("header/divider = %q / %q", lines[0], lines[1])
	}
	// Columns are aligned on the widest cell.
	col := strings.Index(lines[3], "KEPT_OLD")
	if col != strings.Index(lines[2], "REMOVED_OLD") || col != strings.Index(lines[0], "STATE") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestTable_Prefix(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "A").WithPrefix("  ")
	tbl.Row("x")
	tbl.Flush()
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if !strings.HasPrefix(line, "  ") {
			t.Errorf("line %q missing prefix", line)
		}
	}
}
