package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginLeft(1)
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	modelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).MarginLeft(1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).MarginLeft(1)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginLeft(1)
	inputBox    = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))
)
