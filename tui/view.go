package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/pipeline"
)

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	languageStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39"))

	completedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	inProgressStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("237"))
)

const barWidth = 20

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	done, eligible, errs := m.totals()
	header := fmt.Sprintf(" vlm-rationales │ Items: %d (%d with text) │ Resolved: %s/%s │ Errors: %s │ Open jobs: %d ",
		m.snap.Items, m.snap.ImageText, humanize.Comma(int64(done)), humanize.Comma(int64(eligible)),
		humanize.Comma(int64(errs)), len(m.snap.OpenJobs))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case TabCoverage:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderCoverage()))
	case TabRuns:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRuns()))
	}
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"Coverage", "Runs"}
	var parts []string
	for i, name := range names {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(name))
		} else {
			parts = append(parts, tabInactiveStyle.Render(name))
		}
	}
	return " " + strings.Join(parts, "  ")
}

func (m Model) visibleCoverage() []pipeline.Coverage {
	if !m.errorsOnly {
		return m.snap.Coverage
	}
	var out []pipeline.Coverage
	for _, c := range m.snap.Coverage {
		if c.Errors > 0 {
			out = append(out, c)
		}
	}
	return out
}

func (m Model) totals() (done, eligible, errs int) {
	for _, c := range m.snap.Coverage {
		done += c.Done
		eligible += c.Eligible
		errs += c.Errors
	}
	return
}

func (m Model) renderCoverage() string {
	rows := m.visibleCoverage()
	if len(rows) == 0 {
		if m.errorsOnly {
			return dimmedStyle.Render("No pairs with errors")
		}
		return dimmedStyle.Render("No configured pairs")
	}

	var b strings.Builder
	lastLang := ""
	for i, c := range rows {
		if c.Spec.Language.Name != lastLang {
			if lastLang != "" {
				b.WriteString("\n")
			}
			b.WriteString(languageStyle.Render(c.Spec.Language.Name))
			b.WriteString("\n")
			lastLang = c.Spec.Language.Name
		}

		line := fmt.Sprintf("  task%d  %s %5.1f%%  %4d/%-4d  %s  %s",
			int(c.Spec.Task), progressBar(c.Percent()), c.Percent(), c.Done, c.Eligible,
			renderErrors(c.Errors), renderArtifact(c.HasArtifact))
		line = styleForCoverage(c).Render(line)
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func styleForCoverage(c pipeline.Coverage) lipgloss.Style {
	switch {
	case c.Eligible == 0:
		return dimmedStyle
	case c.Remaining() == 0:
		return completedStyle
	default:
		return inProgressStyle
	}
}

func renderErrors(n int) string {
	if n == 0 {
		return dimmedStyle.Render("no errors")
	}
	return errorStyle.Render(fmt.Sprintf("%d errors", n))
}

func renderArtifact(ok bool) string {
	if ok {
		return "✓ results"
	}
	return dimmedStyle.Render("· no results yet")
}

func progressBar(percent float64) string {
	filled := int(percent / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"
}

func (m Model) renderRuns() string {
	if len(m.snap.Runs) == 0 {
		return dimmedStyle.Render("No runs recorded")
	}

	var b strings.Builder
	b.WriteString(dimmedStyle.Render(fmt.Sprintf("%-10s %-5s %-6s %-9s %8s %6s %9s  %s",
		"LANGUAGE", "TASK", "MODE", "STATUS", "RESOLVED", "ERRORS", "ABANDONED", "STARTED")))
	b.WriteString("\n")
	for i, run := range m.snap.Runs {
		line := fmt.Sprintf("%-10s %-5d %-6s %-9s %8d %6d %9d  %s",
			run.Language, run.Task, run.Mode, run.Status, run.Resolved, run.Errors, run.Abandoned,
			humanize.Time(run.StartedAt))
		line = styleForRun(run.Status).Render(line)
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.snap.OpenJobs) > 0 {
		b.WriteString("\n")
		b.WriteString(inProgressStyle.Render(fmt.Sprintf("Open batch jobs: %d", len(m.snap.OpenJobs))))
		b.WriteString("\n")
		for _, j := range m.snap.OpenJobs {
			b.WriteString(fmt.Sprintf("  %s  chunk %d attempt %d  %s  %d requests\n",
				j.JobID, j.Chunk, j.Attempt, j.Status, j.Requests))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func styleForRun(s ledger.RunStatus) lipgloss.Style {
	switch s {
	case ledger.RunCompleted:
		return completedStyle
	case ledger.RunRunning, ledger.RunPartial:
		return inProgressStyle
	case ledger.RunFailed:
		return errorStyle
	default:
		return dimmedStyle
	}
}

func (m Model) renderStatusBar() string {
	keys := "q quit │ r refresh │ tab switch │ j/k move │ e errors only"
	status := ""
	switch {
	case m.err != nil:
		status = errorStyle.Render("refresh failed: " + m.err.Error())
	case !m.lastRefresh.IsZero():
		status = "updated " + m.lastRefresh.Format(time.Kitchen)
	}
	return statusBarStyle.Width(m.width).Render(" " + keys + "  " + status)
}
