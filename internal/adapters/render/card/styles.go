package card

import "github.com/charmbracelet/lipgloss"

type styles struct {
	frame   lipgloss.Style
	title   lipgloss.Style
	meta    lipgloss.Style
	text    lipgloss.Style
	tool    lipgloss.Style
	code    lipgloss.Style
	codeTag lipgloss.Style
	empty   lipgloss.Style
}

func newStyles(plain bool) styles {
	if plain {
		return styles{
			frame: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1),
		}
	}

	return styles{
		frame:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1),
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		meta:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		text:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		tool:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		code:    lipgloss.NewStyle().Foreground(lipgloss.Color("159")).Background(lipgloss.Color("235")),
		codeTag: lipgloss.NewStyle().Faint(true),
		empty:   lipgloss.NewStyle().Faint(true),
	}
}
