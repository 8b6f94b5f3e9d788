package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/patchfetch/patchfetch/internal/fetcher"
)

// Spinner frames for animated progress
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var (
	walkingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")) // Blue
	resolvingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // Green
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Terminal provides terminal-aware output utilities
type Terminal struct {
	out          io.Writer
	IsTerminal   bool
	UseColor     bool
	spinnerIndex int
	bar          progress.Model
}

// NewTerminal creates a Terminal writing to out. Only an *os.File
// attached to a terminal gets redraws and color.
func NewTerminal(out io.Writer) *Terminal {
	isTerminal := false
	if f, ok := out.(*os.File); ok {
		isTerminal = term.IsTerminal(int(f.Fd()))
	}
	return &Terminal{
		out:        out,
		IsTerminal: isTerminal,
		UseColor:   isTerminal, // Only use color in terminal
		bar:        progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

// ClearLine clears the current line (terminal only)
func (t *Terminal) ClearLine() {
	if t.IsTerminal {
		fmt.Fprint(t.out, "\r\033[K")
	}
}

// Print writes text without a newline
func (t *Terminal) Print(text string) {
	fmt.Fprint(t.out, text)
}

// Println writes a line
func (t *Terminal) Println(text string) {
	fmt.Fprintln(t.out, text)
}

// Flush ensures output is written immediately
func (t *Terminal) Flush() {
	if f, ok := t.out.(*os.File); ok {
		_ = f.Sync()
	}
}

// Spinner returns the next spinner frame
func (t *Terminal) Spinner() string {
	if !t.IsTerminal {
		return ""
	}
	frame := spinnerFrames[t.spinnerIndex]
	t.spinnerIndex = (t.spinnerIndex + 1) % len(spinnerFrames)
	return frame
}

// Bar renders a static progress bar for a fraction between 0 and 1
func (t *Terminal) Bar(fraction float64) string {
	if !t.IsTerminal {
		return ""
	}
	return t.bar.ViewAs(fraction) + " "
}

// Style renders text with style (terminal only)
func (t *Terminal) Style(style lipgloss.Style, text string) string {
	if !t.UseColor {
		return text
	}
	return style.Render(text)
}

// FormatETA formats a duration as a human-readable ETA string
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s > 0 {
			return fmt.Sprintf("%dm%ds", m, s)
		}
		return fmt.Sprintf("%dm", m)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

// PhaseStyle returns the style for a fetch phase
func PhaseStyle(phase fetcher.ProgressPhase) lipgloss.Style {
	switch phase {
	case fetcher.PhaseWalking:
		return walkingStyle
	case fetcher.PhaseResolving:
		return resolvingStyle
	default:
		return dimStyle
	}
}
