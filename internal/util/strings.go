// Package util provides text helpers for terminal output.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// TruncateANSI truncates s to maxWidth visual columns, adding "..." if
// truncated. ANSI escape codes and wide characters are accounted for.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// TailLines returns the last n lines of s and how many lines were dropped.
// A trailing newline does not count as an empty last line.
func TailLines(s string, n int) (string, int) {
	s = strings.TrimRight(s, "\n")
	if s == "" || n <= 0 {
		return "", 0
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s, 0
	}
	dropped := len(lines) - n
	return strings.Join(lines[dropped:], "\n"), dropped
}

// FirstLine returns the first line of s, marking with "..." that more
// followed.
func FirstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i]) + " ..."
	}
	return s
}

// StripANSI removes escape sequences, such as the interactive-mode marker
// written at the start of process output.
func StripANSI(s string) string {
	return ansi.Strip(s)
}
