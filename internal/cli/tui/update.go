package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.poll(), tickCmd(m.interval))

	case stateMsg:
		m.state = msg.state
		m.err = nil
		m.updatedAt = time.Now()
		if m.state.Phase.Terminal() {
			return m, tea.Quit
		}

	case errMsg:
		m.err = msg.err
	}

	return m, nil
}
