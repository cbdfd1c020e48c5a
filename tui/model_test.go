package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/pipeline"
)

func sampleSnapshot() Snapshot {
	english := domain.Language{Name: "English", Code: "En"}
	urdu := domain.Language{Name: "Urdu", Code: "Ur"}
	return Snapshot{
		Items:     1000,
		ImageText: 400,
		Coverage: []pipeline.Coverage{
			{Spec: domain.TaskSpec{Language: english, Task: 1}, Eligible: 1000, Done: 1000, HasArtifact: true},
			{Spec: domain.TaskSpec{Language: english, Task: 6}, Eligible: 400, Done: 200, Errors: 3},
			{Spec: domain.TaskSpec{Language: urdu, Task: 1}, Eligible: 1000},
		},
		Runs: []*ledger.Run{
			{Language: "English", Task: 6, Mode: "batch", Status: ledger.RunPartial, Resolved: 200, StartedAt: time.Now()},
		},
		OpenJobs: []*ledger.Job{{JobID: "batch_abc", Chunk: 2, Attempt: 1, Status: domain.JobInProgress, Requests: 200}},
		TakenAt:  time.Date(2024, 5, 1, 15, 4, 0, 0, time.UTC),
	}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestModel_LoadingBeforeSize(t *testing.T) {
	m := NewModel(ModelConfig{})
	if got := m.View(); got != "Loading..." {
		t.Errorf("View() = %q, want Loading...", got)
	}
}

func TestModel_Snapshot(t *testing.T) {
	m := NewModel(ModelConfig{})
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, SnapshotMsg{Snapshot: sampleSnapshot()})

	view := m.View()
	for _, want := range []string{"English", "Urdu", "task6", "3 errors", "1,200/2,400", "Open jobs: 1"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_ErrorsOnly(t *testing.T) {
	m := NewModel(ModelConfig{})
	m = update(t, m, SnapshotMsg{Snapshot: sampleSnapshot()})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("e")})

	rows := m.visibleCoverage()
	if len(rows) != 1 || rows[0].Spec.Task != 6 {
		t.Errorf("visibleCoverage() = %+v, want only English task6", rows)
	}
}

func TestModel_Navigation(t *testing.T) {
	m := NewModel(ModelConfig{})
	m = update(t, m, SnapshotMsg{Snapshot: sampleSnapshot()})

	tests := []struct {
		key     string
		wantTab int
		wantRow int
	}{
		{"j", TabCoverage, 1},
		{"j", TabCoverage, 2},
		{"j", TabCoverage, 2}, // clamped
		{"k", TabCoverage, 1},
		{"tab", TabRuns, 0},
		{"j", TabRuns, 0}, // one run only
		{"c", TabCoverage, 0},
	}
	for _, tt := range tests {
		var msg tea.KeyMsg
		if tt.key == "tab" {
			msg = tea.KeyMsg{Type: tea.KeyTab}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)}
		}
		m = update(t, m, msg)
		if m.activeTab != tt.wantTab || m.selectedRow != tt.wantRow {
			t.Errorf("after %q: tab=%d row=%d, want tab=%d row=%d", tt.key, m.activeTab, m.selectedRow, tt.wantTab, tt.wantRow)
		}
	}
}

func TestModel_RefreshError(t *testing.T) {
	m := NewModel(ModelConfig{})
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = update(t, m, SnapshotMsg{Snapshot: sampleSnapshot()})
	m = update(t, m, SnapshotMsg{Err: errors.New("ledger locked")})

	if !strings.Contains(m.View(), "refresh failed: ledger locked") {
		t.Error("View() should show the refresh error")
	}
	// the previous snapshot stays visible
	if len(m.snap.Coverage) != 3 {
		t.Errorf("coverage rows = %d, want 3", len(m.snap.Coverage))
	}
}

func TestModel_RefreshCmd(t *testing.T) {
	calls := 0
	m := NewModel(ModelConfig{Load: func() (Snapshot, error) {
		calls++
		return sampleSnapshot(), nil
	}})
	_, cmd := m.Update(ChangedMsg{})
	if cmd == nil {
		t.Fatal("ChangedMsg should trigger a refresh")
	}
	msg, ok := cmd().(SnapshotMsg)
	if !ok || calls != 1 || len(msg.Snapshot.Coverage) != 3 {
		t.Errorf("refresh = %+v, calls = %d", msg, calls)
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		percent float64
		filled  int
	}{
		{0, 0},
		{50, 10},
		{100, 20},
		{150, 20},
	}
	for _, tt := range tests {
		got := progressBar(tt.percent)
		if n := strings.Count(got, "█"); n != tt.filled {
			t.Errorf("progressBar(%v) filled = %d, want %d", tt.percent, n, tt.filled)
		}
	}
}
