package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ByteMirror/runmux/agent"
)

var outputStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#dddddd"})

var statusTextStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#7A7474", Dark: "#9C9494"}).
	Italic(true)

var barStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#7EC8D8"))

var barDimStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#DDDADA", Dark: "#3C3C3C"})

var barFailStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#DE613E"))

// labelPalette colors agent labels so adjacent lines from different agents
// are easy to tell apart. Assignment is by id modulo the palette size.
var labelPalette = []lipgloss.Style{
	lipgloss.NewStyle().Foreground(lipgloss.Color("36")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("173")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("140")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("108")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("167")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("73")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("179")),
	lipgloss.NewStyle().Foreground(lipgloss.Color("110")),
}

// LabelStyle returns the stable display style for an agent's label.
func LabelStyle(id agent.ID) lipgloss.Style {
	return labelPalette[uint64(id)%uint64(len(labelPalette))]
}
