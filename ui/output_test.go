package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ByteMirror/runmux/agent"
	"github.com/ByteMirror/runmux/merge"
)

func TestOutputPaneAppendsLines(t *testing.T) {
	pane := NewOutputPane(100)
	pane.SetSize(80, 10)

	pane.Append(merge.Unit{AgentID: 1, Label: "[n=1]", Stream: agent.StreamOutput, Text: "hello"})
	pane.Append(merge.Unit{AgentID: 2, Label: "[n=2]", Stream: agent.StreamOutput, Text: "world"})

	view := pane.String()
	assert.Contains(t, view, "hello")
	assert.Contains(t, view, "world")
	assert.Contains(t, view, "[n=1]")
}

func TestOutputPaneSplitsBlocks(t *testing.T) {
	pane := NewOutputPane(100)
	pane.SetSize(80, 10)

	pane.Append(merge.Unit{AgentID: 1, Label: "[n=1]", Stream: agent.StreamOutput, Text: "one\ntwo\nthree\n"})

	assert.Len(t, pane.lines, 3)
	for _, line := range pane.lines {
		assert.Contains(t, line, "[n=1]", "every line of a block keeps the label prefix")
	}
}

func TestOutputPaneDropsOldestBeyondMaxLines(t *testing.T) {
	pane := NewOutputPane(3)
	pane.SetSize(80, 10)

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		pane.Append(merge.Unit{AgentID: 1, Stream: agent.StreamOutput, Text: text})
	}

	assert.Len(t, pane.lines, 3)
	joined := strings.Join(pane.lines, "\n")
	assert.NotContains(t, joined, "a")
	assert.Contains(t, joined, "e")
}

func TestLabelStyleIsStablePerAgent(t *testing.T) {
	assert.Equal(t, LabelStyle(3), LabelStyle(3))
	assert.Equal(t, LabelStyle(1), LabelStyle(1+agent.ID(len(labelPalette))))
}
