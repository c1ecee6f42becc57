package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"

	"github.com/ByteMirror/runmux/agent"
	"github.com/ByteMirror/runmux/merge"
)

// OutputPane is the scrolling merged-output view. It keeps at most maxLines
// rendered lines, dropping the oldest, and follows the tail unless the user
// has scrolled away from it.
type OutputPane struct {
	viewport viewport.Model
	maxLines int

	lines  []string
	follow bool
}

func NewOutputPane(maxLines int) *OutputPane {
	if maxLines <= 0 {
		maxLines = 10000
	}
	return &OutputPane{
		viewport: viewport.New(0, 0),
		maxLines: maxLines,
		follow:   true,
	}
}

func (o *OutputPane) SetSize(width, height int) {
	o.viewport.Width = width
	o.viewport.Height = height
	o.refresh()
}

// Append renders one merged unit into the pane. Multi-line units (grouped
// blocks) get the label prefix on every line.
func (o *OutputPane) Append(u merge.Unit) {
	prefix := ""
	if u.Label != "" {
		prefix = LabelStyle(u.AgentID).Render(u.Label) + " "
	}

	text := strings.TrimRight(u.Text, "\n")
	if u.Stream == agent.StreamStatus {
		text = statusTextStyle.Render(text)
	}
	for _, line := range strings.Split(text, "\n") {
		o.lines = append(o.lines, prefix+outputStyle.Render(strings.TrimSuffix(line, "\r")))
	}
	if len(o.lines) > o.maxLines {
		o.lines = o.lines[len(o.lines)-o.maxLines:]
	}
	o.refresh()
}

func (o *OutputPane) refresh() {
	o.viewport.SetContent(strings.Join(o.lines, "\n"))
	if o.follow {
		o.viewport.GotoBottom()
	}
}

// ScrollUp detaches from the tail.
func (o *OutputPane) ScrollUp(n int) {
	o.follow = false
	o.viewport.LineUp(n)
}

// ScrollDown reattaches to the tail when it reaches the bottom.
func (o *OutputPane) ScrollDown(n int) {
	o.viewport.LineDown(n)
	if o.viewport.AtBottom() {
		o.follow = true
	}
}

// GotoBottom jumps to the tail and follows it again.
func (o *OutputPane) GotoBottom() {
	o.follow = true
	o.viewport.GotoBottom()
}

func (o *OutputPane) String() string {
	return o.viewport.View()
}
