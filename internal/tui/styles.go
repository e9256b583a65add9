package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	header   lipgloss.Style
	user     lipgloss.Style
	ai       lipgloss.Style
	userText lipgloss.Style
	input    lipgloss.Style
	help     lipgloss.Style
	err      lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#3B82F6")).
			Padding(0, 1),
		user:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6")),
		ai:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981")),
		userText: lipgloss.NewStyle().PaddingLeft(2),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6B7280")).
			Padding(0, 1),
		help: lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		err:  lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}
}
