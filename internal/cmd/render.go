package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/boltkit/internal/alert"
	"github.com/Iron-Ham/boltkit/internal/dispatch"
	"github.com/Iron-Ham/boltkit/internal/util"
)

var (
	errorColor   = lipgloss.Color("#F87171") // Red
	warningColor = lipgloss.Color("#F59E0B") // Amber
	successColor = lipgloss.Color("#10B981") // Green
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	borderColor  = lipgloss.Color("#6B7280") // Gray

	alertTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	parserTitle     = lipgloss.NewStyle().Bold(true).Foreground(warningColor)
	mutedStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle    = lipgloss.NewStyle().Foreground(successColor)
	failureStyle    = lipgloss.NewStyle().Foreground(errorColor)

	contentBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)
)

// alertContentLines caps how much captured output an alert shows.
const alertContentLines = 10

// printer writes progress and alerts for a command. Styling is used only
// when the destination is a terminal.
type printer struct {
	w      io.Writer
	styled bool
	width  int

	mu sync.Mutex
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, width: 80}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.styled = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 20 {
			p.width = width
		}
	}
	return p
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, line)
}

// Raise renders an alert. It makes printer an alert.Sink.
func (p *printer) Raise(a alert.Alert) {
	p.println(p.renderAlert(a))
}

func (p *printer) renderAlert(a alert.Alert) string {
	titleStyle := alertTitleStyle
	if a.Source == alert.SourceParser {
		titleStyle = parserTitle
	}

	var b strings.Builder
	b.WriteString(p.style(titleStyle, fmt.Sprintf("✗ %s", a.Title)))
	b.WriteString(p.style(mutedStyle, fmt.Sprintf(" [%s/%s]", a.Source, a.Type)))
	if a.Description != "" {
		b.WriteString("\n  ")
		b.WriteString(util.TruncateANSI(a.Description, p.width-2))
	}

	content, dropped := util.TailLines(util.StripANSI(a.Content), alertContentLines)
	if content == "" {
		return b.String()
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = util.TruncateANSI(line, p.width-6)
	}
	if dropped > 0 {
		lines = append([]string{fmt.Sprintf("... %d earlier lines", dropped)}, lines...)
	}
	body := strings.Join(lines, "\n")

	b.WriteString("\n")
	if p.styled {
		b.WriteString(contentBox.Render(body))
	} else {
		for _, line := range strings.Split(body, "\n") {
			b.WriteString("  | " + line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// success reports a completed action.
func (p *printer) success(text string) {
	p.println(p.style(successStyle, "✓ ") + text)
}

// summary prints one line per artifact with its action counts.
func (p *printer) summary(artifacts []dispatch.ArtifactState) {
	for _, a := range artifacts {
		counts := make(map[dispatch.ActionStatus]int)
		for _, act := range a.Actions {
			counts[act.Status]++
		}

		name := a.ID
		if a.Title != "" {
			name = fmt.Sprintf("%s (%s)", a.Title, a.ID)
		}
		parts := []string{fmt.Sprintf("%d complete", counts[dispatch.ActionComplete])}
		for _, s := range []dispatch.ActionStatus{dispatch.ActionFailed, dispatch.ActionSkipped, dispatch.ActionAborted} {
			if counts[s] > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
			}
		}

		line := fmt.Sprintf("%s: %s", name, strings.Join(parts, ", "))
		if a.Halted {
			p.println(p.style(failureStyle, "■ ") + line + p.style(mutedStyle, " (halted)"))
			continue
		}
		p.println(p.style(successStyle, "■ ") + line)
	}
}
