package card

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// layoutMsg carries the resolved frame width into the program.
type layoutMsg struct {
	width int
}

// cardProgram lays a card out once and quits. It is a pointer model so
// Render can read the frame back without inspecting the final model.
type cardProgram struct {
	card   Card
	plain  bool
	width  int
	styles styles
	frame  string
}

func (p *cardProgram) Init() tea.Cmd {
	width := p.width
	if width <= 0 {
		width = defaultWidth
	}
	return func() tea.Msg { return layoutMsg{width: width} }
}

func (p *cardProgram) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	layout, ok := msg.(layoutMsg)
	if !ok {
		return p, nil
	}
	p.frame = renderView(p.card, RenderOptions{Width: layout.width, Plain: p.plain}, p.styles)
	return p, tea.Quit
}

func (p *cardProgram) View() string {
	return p.frame
}

// Render draws one card into a string. Nothing is written to the terminal;
// the caller decides where the frame goes.
func Render(c Card, opts RenderOptions) (string, error) {
	program := &cardProgram{
		card:   c,
		plain:  opts.Plain,
		width:  opts.Width,
		styles: newStyles(opts.Plain),
	}

	_, err := tea.NewProgram(program,
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
		tea.WithoutSignalHandler(),
	).Run()
	if err != nil {
		return "", fmt.Errorf("render card %q: %w", c.Title, err)
	}
	return program.frame, nil
}
