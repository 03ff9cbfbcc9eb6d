package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"imgslim/internal/tui"
)

var (
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorError)
	okStyle     = lipgloss.NewStyle().Foreground(tui.ColorSuccess)
	warnStyle   = lipgloss.NewStyle().Foreground(tui.ColorWarn)
	fileStyle   = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	valueStyle  = lipgloss.NewStyle().Foreground(tui.ColorInk)
	dimStyle    = lipgloss.NewStyle().Foreground(tui.ColorDim)
	bulletStyle = lipgloss.NewStyle().Foreground(tui.ColorDim)
)
