package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/taskgraph/internal/run"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

const barWidth = 30

func (m Model) renderLive() string {
	var b strings.Builder
	r := m.record

	b.WriteString(m.spinner.View() + " " + titleStyle.Render(r.Objective))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("graph %s · %s elapsed", r.GraphID, time.Since(m.started).Round(time.Second))))
	b.WriteString("\n\n")
	b.WriteString(progressBar(r.Progress()))
	b.WriteString("\n\n")
	b.WriteString(boxStyle.Render(nodeTable(r, m.verbose)))
	b.WriteString("\n")
	if m.lastErr != nil {
		b.WriteString(errorStyle.Render("poll failed: "+m.lastErr.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render(fmt.Sprintf("%s %s • %s %s",
		keys.Quit.Help().Key, keys.Quit.Help().Desc,
		keys.Verbose.Help().Key, keys.Verbose.Help().Desc)))
	b.WriteString("\n")
	return b.String()
}

// RenderReport renders a finished (or snapshot) record as a styled
// report. With verbose set, node results are included.
func RenderReport(r *run.Record, verbose bool) string {
	var b strings.Builder

	b.WriteString(statusStyle(r.Status).Render(statusIcon(r.Status)+" "+strings.ToUpper(r.Status.String())) +
		" " + titleStyle.Render(r.Objective))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("graph " + r.GraphID))
	if !r.FinishedAt.IsZero() {
		b.WriteString(mutedStyle.Render(fmt.Sprintf(" · took %s", r.FinishedAt.Sub(r.CreatedAt).Round(time.Millisecond))))
	}
	b.WriteString("\n\n")
	b.WriteString(boxStyle.Render(nodeTable(r, verbose)))
	b.WriteString("\n")
	b.WriteString(r.Summarize().String())
	b.WriteString("\n")
	if d := r.Diagnostic; d != nil {
		line := fmt.Sprintf("%s: %s", d.Kind, d.Message)
		if d.NodeID != "" {
			line += " (node " + d.NodeID + ")"
		}
		b.WriteString(warningStyle.Render(line) + "\n")
	}
	return b.String()
}

func nodeTable(r *run.Record, verbose bool) string {
	nodes := r.OrderedNodes()
	if len(nodes) == 0 {
		return mutedStyle.Render("no tasks")
	}

	idWidth := 0
	for _, n := range nodes {
		idWidth = max(idWidth, len(n.ID))
	}

	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		state := nodeStyle(n.State).Render(fmt.Sprintf("%s %-9s", nodeIcon(n.State), n.State))
		line := fmt.Sprintf("%-*s  %s  %s", idWidth, n.ID, state,
			mutedStyle.Render(fmt.Sprintf("%s %d/%d", n.ToolName, n.AttemptCount, n.MaxAttempts)))
		if n.Error != nil {
			line += "  " + errorStyle.Render(n.Error.Error())
		}
		if verbose && len(n.Result) > 0 {
			line += "\n" + strings.Repeat(" ", idWidth+2) + mutedStyle.Render("→ "+string(n.Result))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func progressBar(fraction float64) string {
	filled := int(fraction * barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return runningStyle.Render("["+bar+"]") + mutedStyle.Render(fmt.Sprintf(" %.0f%%", fraction*100))
}

func nodeIcon(s task.State) string {
	switch s {
	case task.StateSucceeded:
		return "✓"
	case task.StateFailed:
		return "✗"
	case task.StateSkipped:
		return "↷"
	case task.StateCancelled:
		return "⊘"
	case task.StateRunning:
		return "⟳"
	default:
		return "·"
	}
}

func nodeStyle(s task.State) lipgloss.Style {
	switch s {
	case task.StateSucceeded:
		return successStyle
	case task.StateFailed:
		return errorStyle
	case task.StateSkipped, task.StateCancelled:
		return warningStyle
	case task.StateRunning:
		return runningStyle
	default:
		return mutedStyle
	}
}

func statusIcon(s run.Status) string {
	switch s {
	case run.StatusSucceeded:
		return "✓"
	case run.StatusPartiallyFailed:
		return "◐"
	case run.StatusFailed:
		return "✗"
	case run.StatusCancelled:
		return "⊘"
	default:
		return "⟳"
	}
}

func statusStyle(s run.Status) lipgloss.Style {
	switch s {
	case run.StatusSucceeded:
		return successStyle
	case run.StatusFailed:
		return errorStyle
	case run.StatusPartiallyFailed, run.StatusCancelled:
		return warningStyle
	default:
		return runningStyle
	}
}
