package cli

import (
	"strings"
	"testing"
)

func withColor(t *testing.T, on bool) {
	t.Helper()
	prev := colorEnabled
	colorEnabled = on
	t.Cleanup(func() { colorEnabled = prev })
}

func TestDotPad(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{"padded", "edge1-ny", 30, "edge1-ny " + strings.Repeat(".", 21)},
		{"exactly one short", "abcde", 6, "abcde"},
		{"too long", "very-long-name", 5, "very-long-name"},
		{"empty name", "", 4, " ..."},
		{"zero width", "edge1", 0, "edge1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DotPad(tt.input, tt.width); got != tt.want {
				t.Errorf("DotPad(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	withColor(t, true)

	tests := []struct {
		level Level
		want  string
	}{
		{LevelOK, "\033[32mREMOVED_OLD\033[0m"},
		{LevelWarn, "\033[33mREMOVED_OLD\033[0m"},
		{LevelFail, "\033[31mREMOVED_OLD\033[0m"},
		{LevelPlain, "REMOVED_OLD"},
	}
	for _, tt := range tests {
		if got := Status("REMOVED_OLD", tt.level); got != tt.want {
			t.Errorf("Status(level %d) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestBold(t *testing.T) {
	withColor(t, true)
	if got := Bold("run r1"); got != "\033[1mrun r1\033[0m" {
		t.Errorf("Bold() = %q", got)
	}
}

func TestNoColor(t *testing.T) {
	withColor(t, false)
	for name, fn := range map[string]func(string) string{
		"Green": Green, "Yellow": Yellow, "Red": Red, "Bold": Bold, "Dim": Dim,
	} {
		if got := fn("edge1"); got != "edge1" {
			t.Errorf("%s with NO_COLOR = %q, want plain text", name, got)
		}
	}
	if got := Status("failed", LevelFail); got != "failed" {
		t.Errorf("Status with NO_COLOR = %q", got)
	}
}
