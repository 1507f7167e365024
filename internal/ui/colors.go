// package ui holds the lipgloss styles the CLI renders status output with.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aminsaedi/navaar/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette is a simple stylesheet built with named [lipgloss.Style] fields.
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
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

// Title renders a section heading.
func Title(s string) string {
	return styles.title.Render(s)
}

// OK renders success text.
func OK(s string) string {
	return styles.ok.Render(s)
}

// Err renders failure text.
func Err(s string) string {
	return styles.err.Render(s)
}

// Warn renders in-progress or cautionary text.
func Warn(s string) string {
	return styles.warn.Render(s)
}

// Help renders secondary text.
func Help(s string) string {
	return styles.help.Render(s)
}

// Status colors a track status by its meaning: green for synced, red for
// failed, dim for duplicates, orange for everything in flight.
func Status(s models.Status) string {
	switch s {
	case models.StatusSynced:
		return OK(string(s))
	case models.StatusFailed:
		return Err(string(s))
	case models.StatusDuplicate:
		return Help(string(s))
	default:
		return Warn(string(s))
	}
}
