package tui

import (
	"fmt"
	"strings"
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	if m.state == nil {
		b.WriteString(m.styles.Footer.Render("loading orchestration state..."))
		b.WriteString("\n")
	} else {
		b.WriteString(RenderStatus(m.state, m.width))
	}

	if m.err != nil {
		b.WriteString(m.styles.Error.Render(fmt.Sprintf("poll failed: %v", m.err)) + "\n")
	}

	footer := "q quit · r refresh"
	if !m.updatedAt.IsZero() {
		footer += " · updated " + m.updatedAt.Format("15:04:05")
	}
	b.WriteString(m.styles.Footer.Render(footer) + "\n")
	return b.String()
}
