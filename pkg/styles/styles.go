package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var defaultStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#7D56F4"))

var errorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#F45E6E"))

var successStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#6ef4a1ff"))

var infoStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#6EC4F4"))

var warnStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#F4C66E"))

func PrintFS(style string, text string, a ...interface{}) {
	fmt.Println(SprintfS(style, text, a...))
}

func SprintfS(style string, format string, a ...interface{}) string {
	text := fmt.Sprintf(format, a...)
	switch style {
	case "error":
		text = errorStyle.Render(text)
	case "success":
		text = successStyle.Render(text)
	case "info":
		text = infoStyle.Render(text)
	case "warn":
		text = warnStyle.Render(text)
	default:
		text = defaultStyle.Render(text)
	}
	return text
}
