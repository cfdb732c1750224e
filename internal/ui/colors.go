package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF5F87", "#FFA500", "#626262")

// Palette is a small stylesheet of named [lipgloss.Style] values.
type Palette struct {
	title   lipgloss.Style
	ok      lipgloss.Style
	err     lipgloss.Style
	warn    lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style
	cell    lipgloss.Style
	heading lipgloss.Style
}

func NewPalette(accent, success, failure, warning, muted string) *Palette {
	return &Palette{
		title:   NewBold(accent).MarginBottom(1),
		ok:      NewBold(success),
		err:     NewBold(failure),
		warn:    NewStyle(warning),
		muted:   NewEm(muted),
		box:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(accent)).Padding(0, 1),
		cell:    lipgloss.NewStyle().Width(9).Align(lipgloss.Right),
		heading: NewBold(accent).Width(9).Align(lipgloss.Right),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
