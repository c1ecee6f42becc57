package agent

import "time"

// Status is the lifecycle state of an agent. Starting and Running are the
// only non-terminal states; once an agent reaches a terminal state its
// status never changes again.
type Status int

const (
	// Starting is the state between submission and process launch. Queued
	// agents hold this state until the pool admits them.
	Starting Status = iota
	// Running is the state while the child process is alive.
	Running
	// Completed is terminal: the process exited on its own. The exit code
	// is in the snapshot.
	Completed
	// Failed is terminal: the process could not be spawned or its pty
	// failed mid-stream. Output emitted before the failure is retained.
	Failed
	// Terminated is terminal: the agent was cancelled and the child was
	// signalled away.
	Terminated
)

func (s Status) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case Completed, Failed, Terminated:
		return true
	case Starting, Running:
		return false
	default:
		return false
	}
}

// Snapshot is a read-only view of an agent's state at one instant.
type Snapshot struct {
	ID        ID
	Command   string
	Label     string
	Status    Status
	ExitCode  int
	StartedAt time.Time
	Err       error
}
