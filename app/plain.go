package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"

	"github.com/ByteMirror/runmux/agent"
	"github.com/ByteMirror/runmux/merge"
	"github.com/ByteMirror/runmux/pool"
)

// plainPalette mirrors the TUI label palette for raw terminal output.
var plainPalette = []string{"36", "173", "140", "108", "167", "73", "179", "110"}

// RunPlain consumes the merged stream and writes it straight to w, one
// label-prefixed line (or block) per unit. Used for non-interactive runs
// and pipes. With raw set, output units pass through byte-for-byte at
// whatever chunk boundaries arrived, with no label column. Returns once
// the merger's stream is drained and closed.
func RunPlain(w io.Writer, p *pool.Pool, m *merge.Merger, raw bool) error {
	out := termenv.NewOutput(w)

	// All agents exist before output starts flowing, so the label column
	// width is known up front.
	labelWidth := 0
	for _, snap := range p.Status() {
		if n := runewidth.StringWidth(snap.Label); n > labelWidth {
			labelWidth = n
		}
	}

	for u := range m.Units() {
		if raw && u.Stream != agent.StreamStatus {
			if _, err := io.WriteString(w, u.Text); err != nil {
				return err
			}
			continue
		}

		prefix := ""
		if u.Label != "" {
			padded := runewidth.FillRight(u.Label, labelWidth)
			prefix = out.String(padded).Foreground(out.Color(plainPalette[uint64(u.AgentID)%uint64(len(plainPalette))])).String() + " "
		}

		if u.Stream == agent.StreamStatus {
			line := out.String(u.Text).Faint().String()
			if _, err := fmt.Fprintln(w, prefix+line); err != nil {
				return err
			}
			continue
		}

		text := strings.TrimRight(u.Text, "\n")
		for _, line := range strings.Split(text, "\n") {
			if _, err := fmt.Fprintln(w, prefix+strings.TrimSuffix(line, "\r")); err != nil {
				return err
			}
		}
	}
	return nil
}
