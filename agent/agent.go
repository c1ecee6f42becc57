// Package agent owns the execution of a single command against a
// pseudo-terminal. Each agent spawns exactly one child process, reads its
// combined output from the pty master, tags and sequences it, and reports
// lifecycle status. Agents are created and tracked by the pool; nothing
// else mutates their state.
package agent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ByteMirror/runmux/log"
)

// Instance is an immutable executable spec produced by expansion.
type Instance struct {
	// Command is the shell command line, run via "sh -c".
	Command string
	// Label identifies the instance for display (e.g. "[n=3]"), empty for
	// single commands.
	Label string
	// Dir is the working directory. Empty means the caller's cwd.
	Dir string
}

const readChunkSize = 4096

// Agent supervises one child process attached to a pty.
type Agent struct {
	// TransitionFunc, if set before Start, is called with a snapshot after
	// every status transition. Called from the agent's own goroutines.
	TransitionFunc func(Snapshot)

	id         ID
	inst       Instance
	out        chan<- Message
	grace      time.Duration
	killMargin time.Duration

	mu        sync.Mutex
	status    Status
	exitCode  int
	err       error
	startedAt time.Time
	cmd       *exec.Cmd
	ptmx      *os.File

	seq        atomic.Uint64
	cancelled  atomic.Bool
	cancelOnce sync.Once
	doneOnce   sync.Once
	done       chan struct{}
}

// New creates an agent in the Starting state. Output messages are sent on
// out; sends block when the channel is full, which deliberately throttles a
// noisy child through the pty's kernel buffer rather than buffering
// unboundedly.
func New(id ID, inst Instance, out chan<- Message, grace, killMargin time.Duration) *Agent {
	return &Agent{
		id:         id,
		inst:       inst,
		out:        out,
		grace:      grace,
		killMargin: killMargin,
		status:     Starting,
		exitCode:   -1,
		done:       make(chan struct{}),
	}
}

// ID returns the agent's unique identifier.
func (a *Agent) ID() ID {
	return a.id
}

// Instance returns the command instance this agent runs.
func (a *Agent) Instance() Instance {
	return a.inst
}

// Done is closed once the agent reaches a terminal state and its child has
// been reaped (or written off).
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Snapshot returns a read-only copy of the agent's current state.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Agent) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        a.id,
		Command:   a.inst.Command,
		Label:     a.inst.Label,
		Status:    a.status,
		ExitCode:  a.exitCode,
		StartedAt: a.startedAt,
		Err:       a.err,
	}
}

// Start allocates a pty, spawns the child with it as controlling terminal
// and transitions Starting -> Running. On launch failure the agent goes to
// Failed and the error is returned; the failure is isolated to this agent.
// Starting an agent that was already cancelled is a no-op: a terminal
// status is never overwritten and no process is spawned.
func (a *Agent) Start() error {
	a.mu.Lock()
	if a.cancelled.Load() || a.status.IsTerminal() {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	cmd := exec.Command("sh", "-c", a.inst.Command)
	if a.inst.Dir != "" {
		cmd.Dir = a.inst.Dir
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := startWithPty(cmd)
	if err != nil {
		err = fmt.Errorf("failed to spawn %q: %w", a.inst.Command, err)
		a.mu.Lock()
		a.status = Failed
		a.err = err
		snap := a.snapshotLocked()
		a.mu.Unlock()

		log.ErrorLog.Printf("agent #%d: %v", a.id, err)
		a.sendStatus(fmt.Sprintf("error: %v", err), true)
		a.notify(snap)
		a.markDone()
		return err
	}

	a.mu.Lock()
	a.cmd = cmd
	a.ptmx = ptmx
	if a.cancelled.Load() {
		// Cancel raced the spawn and already wrote the agent off; it saw no
		// process, so escalation will never run. The child must not outlive
		// the Terminated status it was given.
		a.mu.Unlock()
		a.signalGroup(unix.SIGKILL)
		_ = ptmx.Close()
		_ = cmd.Wait()
		a.writeOff("terminated")
		return nil
	}
	a.startedAt = time.Now()
	a.status = Running
	snap := a.snapshotLocked()
	a.mu.Unlock()

	log.InfoLog.Printf("agent #%d started: %s", a.id, a.inst.Command)
	a.sendStatus("started", false)
	a.notify(snap)

	go a.run()
	return nil
}

// run is the agent's read loop and the only place it blocks: on pty reads
// and on backpressured sends.
func (a *Agent) run() {
	buf := make([]byte, readChunkSize)
	every := log.NewEvery(time.Second)
	var readErr error

	for {
		n, err := a.ptmx.Read(buf)
		if n > 0 {
			// The chunk boundary is whatever the pty delivered; the agent
			// never splits or interprets content.
			data := make([]byte, n)
			copy(data, buf[:n])
			a.send(StreamOutput, data, false)
		}
		if err != nil {
			if !isExpectedReadEnd(err) && !a.cancelled.Load() {
				readErr = err
				if every.ShouldLog() {
					log.ErrorLog.Printf("agent #%d: pty read error: %v", a.id, err)
				}
			}
			break
		}
	}

	_ = a.ptmx.Close()

	// Reap the child. Wait's error for a nonzero exit is redundant with the
	// exit code, which is what we report.
	_ = a.cmd.Wait()
	exitCode := -1
	if a.cmd.ProcessState != nil {
		exitCode = a.cmd.ProcessState.ExitCode()
	}

	a.finalize(exitCode, readErr)
}

// finalize records the terminal state after the child has been reaped.
func (a *Agent) finalize(exitCode int, readErr error) {
	a.mu.Lock()
	if a.status.IsTerminal() {
		// A kill-timeout escalation already wrote this agent off.
		a.mu.Unlock()
		a.markDone()
		return
	}

	var statusText string
	switch {
	case a.cancelled.Load():
		a.status = Terminated
		a.exitCode = exitCode
		statusText = "terminated"
	case readErr != nil:
		a.status = Failed
		a.err = readErr
		a.exitCode = exitCode
		statusText = fmt.Sprintf("error: %v", readErr)
	case exitCode == 0:
		a.status = Completed
		a.exitCode = 0
		statusText = "completed"
	default:
		a.status = Completed
		a.exitCode = exitCode
		statusText = fmt.Sprintf("exited with code %d", exitCode)
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()

	elapsed := time.Duration(0)
	if !snap.StartedAt.IsZero() {
		elapsed = time.Since(snap.StartedAt)
	}
	log.InfoLog.Printf("agent #%d finished: %s (%s, %.2fs)", a.id, a.inst.Command, statusText, elapsed.Seconds())

	a.sendStatus(statusText, true)
	a.notify(snap)
	a.markDone()
}

// Cancel requests cooperative termination: SIGTERM the child's process
// group, wait the grace period, then SIGKILL. The agent transitions to
// Terminated once escalation completes, even if the kill itself errors.
// Cancelling a never-started agent is immediate. Safe to call more than
// once.
func (a *Agent) Cancel() {
	a.cancelOnce.Do(func() {
		a.cancelled.Store(true)

		a.mu.Lock()
		launched := a.cmd != nil && a.cmd.Process != nil
		a.mu.Unlock()

		if !launched {
			// Queued agent: drop it without ever spawning.
			a.writeOff("terminated")
			return
		}
		go a.escalate()
	})
}

func (a *Agent) escalate() {
	a.signalGroup(unix.SIGTERM)

	select {
	case <-a.done:
		return
	case <-time.After(a.grace):
	}

	log.WarningLog.Printf("agent #%d ignored SIGTERM after %v, killing", a.id, a.grace)
	a.signalGroup(unix.SIGKILL)

	select {
	case <-a.done:
		return
	case <-time.After(a.killMargin):
	}

	// The kill didn't land in time (unkillable process). Write the agent
	// off anyway; shutdown must not hang on it.
	log.ErrorLog.Printf("agent #%d: SIGKILL did not land within %v", a.id, a.killMargin)
	a.writeOff("terminated (kill timed out)")
}

// writeOff forces the Terminated state outside the normal read-loop path.
func (a *Agent) writeOff(statusText string) {
	a.mu.Lock()
	if a.status.IsTerminal() {
		a.mu.Unlock()
		a.markDone()
		return
	}
	a.status = Terminated
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.sendStatus(statusText, true)
	a.notify(snap)
	a.markDone()
}

// signalGroup signals the child's whole process group. The child is started
// as a session leader, so its pid doubles as the pgid.
func (a *Agent) signalGroup(sig unix.Signal) {
	a.mu.Lock()
	proc := a.cmd.Process
	a.mu.Unlock()
	if proc == nil {
		return
	}
	if err := unix.Kill(-proc.Pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		log.WarningLog.Printf("agent #%d: signal %v: %v", a.id, sig, err)
	}
}

func (a *Agent) send(stream Stream, data []byte, final bool) {
	a.out <- Message{
		AgentID: a.id,
		Label:   a.inst.Label,
		Seq:     a.seq.Add(1) - 1,
		Time:    time.Now(),
		Stream:  stream,
		Data:    data,
		Final:   final,
	}
}

func (a *Agent) sendStatus(text string, final bool) {
	a.send(StreamStatus, []byte(text), final)
}

func (a *Agent) notify(snap Snapshot) {
	if a.TransitionFunc != nil {
		a.TransitionFunc(snap)
	}
}

func (a *Agent) markDone() {
	a.doneOnce.Do(func() {
		close(a.done)
	})
}

// isExpectedReadEnd reports whether a pty read error just means the child
// exited. Linux returns EIO from the master once the slave side closes;
// other platforms return EOF.
func isExpectedReadEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, unix.EIO)
}
