package agent

import "time"

// ID uniquely identifies an agent for the lifetime of one pool.
type ID uint64

// Stream tags the kind of content an output message carries.
type Stream int

const (
	// StreamOutput is process output. A pty merges the child's stdout and
	// stderr into one byte stream, so pty-sourced chunks always carry this
	// tag.
	StreamOutput Stream = iota
	// StreamStderr is reserved for transports that can keep stderr separate.
	StreamStderr
	// StreamStatus carries lifecycle events: "started", "completed",
	// "exited with code 1", "terminated".
	StreamStatus
)

func (s Stream) String() string {
	switch s {
	case StreamOutput:
		return "output"
	case StreamStderr:
		return "stderr"
	case StreamStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Message is one tagged chunk of output from a running agent. Messages are
// immutable after creation; Seq is strictly increasing and gap-free per
// agent, starting at 0. Time is informational only and must never be used
// for ordering decisions.
type Message struct {
	AgentID ID
	// Label identifies the command instance for display, e.g. "[n=14]".
	// Empty for single commands.
	Label  string
	Seq    uint64
	Time   time.Time
	Stream Stream
	Data   []byte
	// Final marks the terminal status message; it is the last message the
	// agent will ever send.
	Final bool
}
