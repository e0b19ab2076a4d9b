package ui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#3584e4")
	successColor = lipgloss.Color("#2ec27e")
	warningColor = lipgloss.Color("#e5a50a")
	errorColor   = lipgloss.Color("#e01b24")
	mutedColor   = lipgloss.Color("#626262")

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Width(10).
			Foreground(mutedColor)

	focusedLabelStyle = labelStyle.
				Foreground(primaryColor).
				Bold(true)

	statusConnectedStyle = lipgloss.NewStyle().
				Foreground(successColor).
				Bold(true)

	statusBusyStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	statusErrorStyle = lipgloss.NewStyle().
				Foreground(errorColor)

	statusIdleStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)
)
