package ui

import (
	"testing"

	"github.com/muesli/ansi"
	"github.com/stretchr/testify/assert"

	"github.com/ByteMirror/runmux/agent"
)

func snapshots() map[agent.ID]agent.Snapshot {
	return map[agent.ID]agent.Snapshot{
		1: {ID: 1, Label: "[n=1]", Status: agent.Running},
		2: {ID: 2, Label: "[n=2]", Status: agent.Starting},
		3: {ID: 3, Label: "[n=3]", Status: agent.Completed},
		4: {ID: 4, Label: "[n=4]", Status: agent.Failed},
	}
}

func TestStatusBarCounts(t *testing.T) {
	bar := NewStatusBar()
	bar.SetWidth(120)

	rendered := bar.Render(snapshots(), "")
	assert.Contains(t, rendered, "1 running")
	assert.Contains(t, rendered, "1 queued")
	assert.Contains(t, rendered, "1 done")
	assert.Contains(t, rendered, "1 failed")
	assert.Contains(t, rendered, "[n=1]")
}

func TestStatusBarOmitsZeroFailures(t *testing.T) {
	bar := NewStatusBar()
	bar.SetWidth(120)

	snaps := map[agent.ID]agent.Snapshot{
		1: {ID: 1, Status: agent.Completed},
	}
	rendered := bar.Render(snaps, "")
	assert.NotContains(t, rendered, "failed")
	assert.NotContains(t, rendered, "terminated")
}

func TestStatusBarTruncatesToWidth(t *testing.T) {
	bar := NewStatusBar()
	bar.SetWidth(20)

	rendered := bar.Render(snapshots(), "")
	assert.LessOrEqual(t, ansi.PrintableRuneWidth(rendered), 20)
}
