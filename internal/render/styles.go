// Package render formats sessions and schedules for the terminal.
package render

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/storyloop/internal/state"
)

var (
	// Colors meet WCAG AA contrast on dark backgrounds.
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	BlueColor      = lipgloss.Color("#60A5FA") // Blue

	Primary = lipgloss.NewStyle().Foreground(PrimaryColor)
	Success = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Title   = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
)

// StatusColor returns the color used for a session status.
func StatusColor(s state.Status) lipgloss.Color {
	switch s {
	case state.StatusRunning:
		return SecondaryColor
	case state.StatusPaused:
		return BlueColor
	case state.StatusCompleted:
		return PrimaryColor
	case state.StatusFailed:
		return ErrorColor
	case state.StatusCancelled:
		return WarningColor
	default:
		return MutedColor
	}
}

// Status renders a status in its color.
func Status(s state.Status) string {
	return lipgloss.NewStyle().Bold(true).Foreground(StatusColor(s)).Render(string(s))
}
