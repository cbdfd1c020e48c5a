package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "j", "down":
			if m.selectedRow < m.rowCount()-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
		case "c":
			m.activeTab = TabCoverage
			m.selectedRow = 0
		case "h":
			m.activeTab = TabRuns
			m.selectedRow = 0
		case "e":
			// only pairs with error results
			m.errorsOnly = !m.errorsOnly
			m.selectedRow = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd(m.interval))

	case ChangedMsg:
		return m, m.refreshCmd()

	case SnapshotMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.snap = msg.Snapshot
			m.lastRefresh = msg.Snapshot.TakenAt
		}
		if n := m.rowCount(); m.selectedRow >= n {
			m.selectedRow = max(n-1, 0)
		}
	}

	return m, nil
}

func (m Model) rowCount() int {
	if m.activeTab == TabRuns {
		return len(m.snap.Runs)
	}
	return len(m.visibleCoverage())
}
