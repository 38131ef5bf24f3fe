package main

import (
	"github.com/charmbracelet/lipgloss"

	"convo/pkg/board"
	"convo/pkg/reducer"
)

// Theme holds the palette shared by the TUI and plain board rendering.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme uses the 16-color ANSI palette so it follows the terminal's scheme.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),
		Secondary: lipgloss.Color("14"),
		Success:   lipgloss.Color("10"),
		Warning:   lipgloss.Color("11"),
		Error:     lipgloss.Color("9"),
		Muted:     lipgloss.Color("240"),
	}
}

func (t Theme) connectionColor(state reducer.ConnectionState) lipgloss.Color {
	switch state {
	case reducer.Connected:
		return t.Success
	case reducer.Connecting:
		return t.Warning
	case reducer.ConnError:
		return t.Error
	default:
		return t.Muted
	}
}

func (t Theme) statusColor(s board.Status) lipgloss.Color {
	switch s {
	case board.StatusCompleted:
		return t.Success
	case board.StatusInProgress:
		return t.Secondary
	default:
		return t.Primary
	}
}
