package card

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const defaultWidth = 80

// Card is a titled block of markdown-ish text as sent by the gateway.
type Card struct {
	Title   string
	Content string
	// Meta is shown faint under the title, e.g. the chat a card belongs to.
	Meta string
}

type RenderOptions struct {
	Width int
	Plain bool
}

var toolIcons = []string{"📄", "📝", "⚡", "🔧"}

func renderView(card Card, opts RenderOptions, s styles) string {
	width := opts.Width
	if width <= 0 {
		width = defaultWidth
	}
	inner := width - s.frame.GetHorizontalFrameSize()
	if inner < 10 {
		inner = 10
	}

	var parts []string
	if title := strings.TrimSpace(card.Title); title != "" {
		parts = append(parts, s.title.Render(title))
	}
	if meta := strings.TrimSpace(card.Meta); meta != "" {
		parts = append(parts, s.meta.Render(meta))
	}

	body := renderBody(card.Content, inner, s)
	if len(parts) > 0 {
		parts = append(parts, "")
	}
	parts = append(parts, body...)

	return s.frame.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// renderBody styles fenced code blocks apart from prose. Segments alternate
// between text and code on every ``` fence.
func renderBody(content string, width int, s styles) []string {
	if strings.TrimSpace(content) == "" {
		return []string{s.empty.Render("(empty)")}
	}

	var lines []string
	for i, segment := range strings.Split(content, "```") {
		if i%2 == 1 {
			lines = append(lines, renderCode(segment, s)...)
			continue
		}
		segment = strings.Trim(segment, "\n")
		if strings.TrimSpace(segment) == "" {
			continue
		}
		for _, line := range strings.Split(segment, "\n") {
			if isToolLine(line) {
				lines = append(lines, s.tool.Render(line))
				continue
			}
			lines = append(lines, s.text.Width(width).Render(line))
		}
	}
	return lines
}

func renderCode(segment string, s styles) []string {
	lang, code, found := strings.Cut(segment, "\n")
	if !found {
		lang, code = "", segment
	}

	lines := make([]string, 0, strings.Count(code, "\n")+2)
	if lang = strings.TrimSpace(lang); lang != "" {
		lines = append(lines, s.codeTag.Render(lang))
	}
	for _, line := range strings.Split(strings.TrimRight(code, "\n"), "\n") {
		lines = append(lines, s.code.Render(line))
	}
	return lines
}

func isToolLine(line string) bool {
	for _, icon := range toolIcons {
		if strings.HasPrefix(line, icon) {
			return true
		}
	}
	return false
}
