package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/pipeline"
)

// Snapshot is everything the dashboard shows at one point in time
type Snapshot struct {
	DataDir   string
	Items     int
	ImageText int
	Coverage  []pipeline.Coverage
	Runs      []*ledger.Run
	OpenJobs  []*ledger.Job
	TakenAt   time.Time
}

// Loader produces a fresh snapshot; it is called on every refresh
type Loader func() (Snapshot, error)

// Tabs
const (
	TabCoverage = iota
	TabRuns
	tabCount
)

// Model is the TUI application model
type Model struct {
	load     Loader
	interval time.Duration

	snap Snapshot
	err  error

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	errorsOnly  bool

	lastRefresh time.Time
}

// ModelConfig holds initial settings for the TUI model
type ModelConfig struct {
	Load            Loader
	RefreshInterval time.Duration
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		load:     cfg.Load,
		interval: interval,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.refreshCmd(),
		tickCmd(m.interval),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// SnapshotMsg carries a loaded snapshot
type SnapshotMsg struct {
	Snapshot Snapshot
	Err      error
}

// ChangedMsg is sent from outside (e.g. a file watcher) to force a refresh
type ChangedMsg struct{}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	load := m.load
	if load == nil {
		return nil
	}
	return func() tea.Msg {
		snap, err := load()
		return SnapshotMsg{Snapshot: snap, Err: err}
	}
}
