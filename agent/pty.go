package agent

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// startWithPty spawns cmd with a freshly allocated pty as its controlling
// terminal. The child sees a real terminal, so it keeps line buffering,
// colors and cursor control that most CLI tools suppress on plain pipes.
// The pty is sized to the controlling terminal so child programs wrap at
// the right column; 80x24 when there is no terminal to measure.
func startWithPty(cmd *exec.Cmd) (*os.File, error) {
	cols, rows := 80, 24
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
		cols, rows = w, h
	}
	return pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Resize adjusts the pty to new terminal dimensions. No-op for agents whose
// pty is already gone.
func (a *Agent) Resize(cols, rows uint16) {
	a.mu.Lock()
	ptmx := a.ptmx
	a.mu.Unlock()
	if ptmx == nil {
		return
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}
