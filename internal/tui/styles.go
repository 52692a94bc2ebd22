package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent      = lipgloss.Color("#2196F3")
	muted       = lipgloss.Color("#8a94a6")
	destructive = lipgloss.Color("#e53935")
	success     = lipgloss.Color("#8BC34A")
	warning     = lipgloss.Color("#FFC107")
)

// Styles groups the lipgloss styles the controller renders with.
type Styles struct {
	Title    lipgloss.Style
	Identity lipgloss.Style
	Header   lipgloss.Style
	Cell     lipgloss.Style
	Cursor   lipgloss.Style
	Selected lipgloss.Style
	Item     lipgloss.Style
	Help     lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Frame    lipgloss.Style
}

// DefaultStyles returns the default palette.
func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		Identity: lipgloss.NewStyle().Foreground(muted),
		Header:   lipgloss.NewStyle().Bold(true).Underline(true),
		Cell:     lipgloss.NewStyle(),
		Cursor:   lipgloss.NewStyle().Reverse(true),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(accent),
		Item:     lipgloss.NewStyle().PaddingLeft(2),
		Help:     lipgloss.NewStyle().Foreground(muted),
		Error:    lipgloss.NewStyle().Foreground(destructive),
		Success:  lipgloss.NewStyle().Foreground(success),
		Warning:  lipgloss.NewStyle().Foreground(warning),
		Frame:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1),
	}
}
