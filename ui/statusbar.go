package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/muesli/ansi"
	"github.com/muesli/reflow/truncate"

	"github.com/ByteMirror/runmux/agent"
)

// StatusBar is the one-line footer summarizing the run: aggregate counts
// plus the labels of currently running agents, truncated to the terminal
// width.
type StatusBar struct {
	width int
}

func NewStatusBar() *StatusBar {
	return &StatusBar{}
}

func (s *StatusBar) SetWidth(width int) {
	s.width = width
}

// Render draws the bar from a status snapshot. spinnerView is the current
// spinner frame, empty once everything has settled.
func (s *StatusBar) Render(snaps map[agent.ID]agent.Snapshot, spinnerView string) string {
	var running, queued, completed, failed, terminated int
	var active []agent.Snapshot
	for _, snap := range snaps {
		switch snap.Status {
		case agent.Running:
			running++
			active = append(active, snap)
		case agent.Starting:
			queued++
		case agent.Completed:
			completed++
		case agent.Failed:
			failed++
		case agent.Terminated:
			terminated++
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	parts := []string{
		barStyle.Render(fmt.Sprintf("%d running", running)),
		barDimStyle.Render(fmt.Sprintf("%d queued", queued)),
		barStyle.Render(fmt.Sprintf("%d done", completed)),
	}
	if failed > 0 {
		parts = append(parts, barFailStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	if terminated > 0 {
		parts = append(parts, barFailStyle.Render(fmt.Sprintf("%d terminated", terminated)))
	}

	left := spinnerView
	if left != "" {
		left += " "
	}
	left += strings.Join(parts, barDimStyle.Render(" • "))

	var labels []string
	for _, snap := range active {
		if snap.Label != "" {
			labels = append(labels, LabelStyle(snap.ID).Render(snap.Label))
		}
	}
	if len(labels) > 0 {
		// ansi.PrintableRuneWidth ignores the color escapes lipgloss adds.
		avail := s.width - ansi.PrintableRuneWidth(left) - 3
		if avail > 0 {
			left += barDimStyle.Render(" │ ") + truncate.StringWithTail(strings.Join(labels, " "), uint(avail), "…")
		}
	}

	if s.width > 0 {
		return truncate.StringWithTail(left, uint(s.width), "…")
	}
	return left
}
