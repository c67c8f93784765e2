package tui

import "github.com/charmbracelet/lipgloss"

var (
	styleMuted     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleTab       = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("7"))
	styleActiveTab = lipgloss.NewStyle().Padding(0, 1).Bold(true).
			Foreground(lipgloss.Color("0")).Background(lipgloss.Color("12"))
	styleFrame = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12"))
	styleButton = lipgloss.NewStyle().Bold(true).Padding(0, 1).
			Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
)

var iconGlyphs = map[string]string{
	"database":   "⛁",
	"book-text":  "≡",
	"globe-lock": "◎",
	"flag":       "⚑",
	"cog":        "⚙",
}

func glyph(icon string) string {
	if g, ok := iconGlyphs[icon]; ok {
		return g
	}
	return "•"
}
