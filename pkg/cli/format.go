// Package cli holds the terminal formatting shared by the newtauth commands.
package cli

import (
	"os"
	"strings"
)

// colorEnabled is false when NO_COLOR is set (no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

const (
	sgrBold   = "1"
	sgrDim    = "2"
	sgrRed    = "31"
	sgrGreen  = "32"
	sgrYellow = "33"
)

func paint(sgr, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + sgr + "m" + s + "\033[0m"
}

func Green(s string) string  { return paint(sgrGreen, s) }
func Yellow(s string) string { return paint(sgrYellow, s) }
func Red(s string) string    { return paint(sgrRed, s) }
func Dim(s string) string    { return paint(sgrDim, s) }

// Bold marks headings: the run banner, the run summary, and each device in a
// plan preview.
func Bold(s string) string { return paint(sgrBold, s) }

// Level grades a status word.
type Level int

const (
	LevelPlain Level = iota
	LevelOK
	LevelWarn
	LevelFail
)

// Status colors word by level: green when done, yellow when something was
// left for later, red on failure.
func Status(word string, l Level) string {
	switch l {
	case LevelOK:
		return Green(word)
	case LevelWarn:
		return Yellow(word)
	case LevelFail:
		return Red(word)
	}
	return word
}

// DotPad pads name with a space and dots to width, for aligned progress
// lines. Names that do not fit are returned unchanged.
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	return name + " " + strings.Repeat(".", width-len(name)-1)
}
