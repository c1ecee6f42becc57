// Package app is the interactive front end: a full-screen view of the
// merged output with a live status footer. It consumes the merger's unit
// stream and the pool's snapshots; it never touches agents directly.
package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ByteMirror/runmux/keys"
	"github.com/ByteMirror/runmux/merge"
	"github.com/ByteMirror/runmux/pool"
	"github.com/ByteMirror/runmux/ui"
)

// Run drives the TUI until every agent has settled and the user quits, or
// until the user aborts the run. Blocks.
func Run(ctx context.Context, p *pool.Pool, m *merge.Merger, maxLines int) error {
	prog := tea.NewProgram(
		newHome(ctx, p, m, maxLines),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(), // Mouse scroll
	)
	_, err := prog.Run()
	return err
}

const statusPollInterval = 250 * time.Millisecond

type unitMsg merge.Unit

// drainedMsg means the merger closed its stream: shutdown has completed and
// everything pending was flushed.
type drainedMsg struct{}

type tickMsg time.Time

type home struct {
	ctx context.Context

	pool   *pool.Pool
	merger *merge.Merger

	output  *ui.OutputPane
	bar     *ui.StatusBar
	spinner spinner.Model

	width, height int
	settled       bool
	quitting      bool
}

func newHome(ctx context.Context, p *pool.Pool, m *merge.Merger, maxLines int) *home {
	return &home{
		ctx:     ctx,
		pool:    p,
		merger:  m,
		output:  ui.NewOutputPane(maxLines),
		bar:     ui.NewStatusBar(),
		spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot)),
	}
}

func (h *home) Init() tea.Cmd {
	return tea.Batch(h.spinner.Tick, h.waitForUnit(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(statusPollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForUnit blocks on the merger's stream; the program loop re-issues it
// after every delivery so units arrive one message at a time.
func (h *home) waitForUnit() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-h.merger.Units()
		if !ok {
			return drainedMsg{}
		}
		return unitMsg(u)
	}
}

// shutdown cancels everything still alive and stops the merger. The
// drainedMsg that follows is what actually quits the program, so the final
// status lines still make it on screen.
func (h *home) shutdown() tea.Cmd {
	return func() tea.Msg {
		h.pool.ShutdownAll(h.ctx)
		h.merger.Stop()
		return nil
	}
}

func (h *home) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h.width, h.height = msg.Width, msg.Height
		h.output.SetSize(msg.Width, msg.Height-1)
		h.bar.SetWidth(msg.Width)
		h.pool.ResizeAll(uint16(msg.Width), uint16(msg.Height-1))
		return h, nil

	case unitMsg:
		h.output.Append(merge.Unit(msg))
		return h, h.waitForUnit()

	case drainedMsg:
		return h, tea.Quit

	case tickMsg:
		if !h.settled {
			_, _, terminal := h.pool.Counts()
			total := len(h.pool.Status())
			if total > 0 && terminal == total {
				h.settled = true
			}
		}
		return h, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		h.spinner, cmd = h.spinner.Update(msg)
		return h, cmd

	case tea.MouseMsg:
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			h.output.ScrollUp(3)
		case tea.MouseButtonWheelDown:
			h.output.ScrollDown(3)
		}
		return h, nil

	case tea.KeyMsg:
		name, ok := keys.GlobalKeyStringsMap[msg.String()]
		if !ok {
			return h, nil
		}
		switch name {
		case keys.KeyQuit:
			if h.quitting {
				return h, nil
			}
			h.quitting = true
			if h.settled {
				// Nothing left alive; no reason to wait out escalation.
				h.merger.Stop()
				return h, nil
			}
			return h, h.shutdown()
		case keys.KeyUp:
			h.output.ScrollUp(1)
		case keys.KeyDown:
			h.output.ScrollDown(1)
		case keys.KeyPageUp:
			h.output.ScrollUp(10)
		case keys.KeyPageDown:
			h.output.ScrollDown(10)
		case keys.KeyBottom:
			h.output.GotoBottom()
		}
		return h, nil
	}
	return h, nil
}

func (h *home) View() string {
	spin := h.spinner.View()
	if h.settled {
		spin = ""
	}
	bar := h.bar.Render(h.pool.Status(), spin)
	return lipgloss.JoinVertical(lipgloss.Left, h.output.String(), bar)
}
