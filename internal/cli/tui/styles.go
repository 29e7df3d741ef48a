package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains the lipgloss styles shared by status and watch output.
type Styles struct {
	Title  lipgloss.Style
	Phase  lipgloss.Style
	Branch lipgloss.Style

	Header lipgloss.Style
	Cell   lipgloss.Style

	Settled lipgloss.Style
	Active  lipgloss.Style
	Failed  lipgloss.Style

	Error  lipgloss.Style
	Footer lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Phase:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		Branch: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),

		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("250")),
		Cell:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),

		Settled: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Active:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),

		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Footer: lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1),
	}
}

// Icons used in rendered status.
const (
	IconSettled = "✓"
	IconActive  = "●"
	IconFailed  = "✗"
	IconWaiting = "⏳"
)
