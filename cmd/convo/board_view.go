package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"convo/pkg/board"
)

// maxTimelineRows is how many recent activities the board shows.
const maxTimelineRows = 12

// boardColumnSpec is one status column.
type boardColumnSpec struct {
	title  string
	status board.Status
}

var boardColumns = []boardColumnSpec{
	{"Pending", board.StatusPending},
	{"In Progress", board.StatusInProgress},
	{"Completed", board.StatusCompleted},
}

// renderBoard renders the task columns side by side, then the open
// delegations and the tail of the activity timeline.
func renderBoard(b board.Board, theme Theme, width int) string {
	colWidth := max(width/len(boardColumns), 16)

	cardStyle := lipgloss.NewStyle().
		Width(colWidth-2).
		Padding(0, 1)

	metaStyle := lipgloss.NewStyle().
		Foreground(theme.Muted)

	columnStyle := lipgloss.NewStyle().
		Width(colWidth).
		Padding(0, 1)

	rendered := make([]string, 0, len(boardColumns))
	for _, col := range boardColumns {
		headerStyle := lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.statusColor(col.status)).
			Width(colWidth - 2).
			Align(lipgloss.Center).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder())

		var tasks []board.Task
		for _, t := range b.Tasks {
			if t.Status == col.status {
				tasks = append(tasks, t)
			}
		}
		header := headerStyle.Render(fmt.Sprintf("%s (%d)", col.title, len(tasks)))

		var cards strings.Builder
		for _, t := range tasks {
			cards.WriteString(cardStyle.Render(fmt.Sprintf("%s\n%s", taskLabel(t), metaStyle.Render(taskMeta(t)))))
			cards.WriteString("\n")
		}
		rendered = append(rendered, columnStyle.Render(header+"\n"+cards.String()))
	}

	sections := []string{lipgloss.JoinHorizontal(lipgloss.Top, rendered...)}
	if len(b.OpenDelegations) > 0 {
		sections = append(sections, renderDelegations(b.OpenDelegations, theme))
	}
	if len(b.Timeline) > 0 {
		sections = append(sections, renderTimeline(b.Timeline, theme, width))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// taskLabel prefers the active form for running tasks.
func taskLabel(t board.Task) string {
	if t.Status == board.StatusInProgress && t.ActiveForm != "" {
		return t.ActiveForm
	}
	return t.Subject
}

func taskMeta(t board.Task) string {
	meta := "#" + t.ID
	switch {
	case t.Source == board.SourceDelegation:
		meta = "delegated"
	case t.Source == board.SourceCreate && t.ID == t.InvocationID:
		meta = "creating"
	}
	if t.Owner != board.MainAgent {
		meta += " · " + t.Owner
	}
	return meta
}

func renderDelegations(open []board.Delegation, theme Theme) string {
	style := lipgloss.NewStyle().Foreground(theme.Secondary)
	names := make([]string, len(open))
	for i, d := range open {
		names[i] = d.Agent
		if d.Description != "" {
			names[i] += ": " + d.Description
		}
	}
	return style.Render("Running sub-agents: " + strings.Join(names, ", "))
}

func renderTimeline(timeline []board.Activity, theme Theme, width int) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Render("Activity")
	start := max(len(timeline)-maxTimelineRows, 0)

	lines := []string{title}
	if start > 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.Muted).Render(fmt.Sprintf("  ... %d earlier", start)))
	}
	row := lipgloss.NewStyle().MaxWidth(max(width, 20))
	for _, a := range timeline[start:] {
		glyph, color := activityGlyph(a.Status, theme)
		line := lipgloss.NewStyle().Foreground(color).Render(glyph) + " " + a.Summary
		if a.Owner != board.MainAgent {
			line += lipgloss.NewStyle().Foreground(theme.Muted).Render(" (" + a.Owner + ")")
		}
		lines = append(lines, row.Render(line))
	}
	return strings.Join(lines, "\n")
}

func activityGlyph(s board.ActivityStatus, theme Theme) (string, lipgloss.Color) {
	switch s {
	case board.ActivityCompleted:
		return "✓", theme.Success
	case board.ActivityError:
		return "✗", theme.Error
	default:
		return "…", theme.Warning
	}
}
