package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/coderelay/cco/internal/state"
)

// Fetch loads the current orchestration state; the watch model polls it.
type Fetch func(ctx context.Context) (*state.OrchestrationState, error)

// Model is the bubbletea model for the watch command.
type Model struct {
	fetch    Fetch
	interval time.Duration
	styles   Styles

	state     *state.OrchestrationState
	err       error
	updatedAt time.Time
	width     int

	quitting bool
}

// NewModel creates a watch model polling fetch at the given interval.
func NewModel(fetch Fetch, interval time.Duration) *Model {
	return &Model{
		fetch:    fetch,
		interval: interval,
		styles:   DefaultStyles(),
		width:    80,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tickCmd(m.interval))
}

// tickMsg triggers the next poll.
type tickMsg time.Time

// stateMsg carries a freshly loaded state document.
type stateMsg struct {
	state *state.OrchestrationState
}

// errMsg carries a poll failure; the previous snapshot stays on screen.
type errMsg struct {
	err error
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) poll() tea.Cmd {
	return func() tea.Msg {
		s, err := m.fetch(context.Background())
		if err != nil {
			return errMsg{err: err}
		}
		return stateMsg{state: s}
	}
}
