// Package merge linearizes the tagged output of many concurrent agents
// into one presented sequence. A single consumer goroutine assigns a
// monotonic ingress counter to every message at the input boundary; that
// counter, never wall-clock time, is the authoritative cross-agent
// tie-break. Per-agent order is preserved end to end because each agent is
// a single producer and ingress order cannot invert its messages.
package merge

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/ByteMirror/runmux/agent"
)

// Strategy selects how concurrent output is combined. Strategies are
// mutually exclusive per run.
type Strategy int

const (
	// Interleaved passes chunks through in ingress order.
	Interleaved Strategy = iota
	// LineBuffered holds each agent's trailing partial line and emits only
	// whole lines; the remainder is flushed when the agent terminates.
	LineBuffered
	// Grouped buffers all of an agent's output and emits it as one atomic
	// block when the agent reaches a terminal state. Blocks appear in
	// completion order, not submission order.
	Grouped
)

func (s Strategy) String() string {
	switch s {
	case Interleaved:
		return "interleaved"
	case LineBuffered:
		return "line"
	case Grouped:
		return "grouped"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a config/flag value to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "interleaved", "interleave", "raw":
		return Interleaved, nil
	case "line", "line-buffered", "lines":
		return LineBuffered, nil
	case "grouped", "group":
		return Grouped, nil
	default:
		return 0, fmt.Errorf("unknown merge strategy %q (want interleaved, line or grouped)", name)
	}
}

// Unit is one element of the merged view: a chunk, a line or a whole block
// depending on the strategy, plus pass-through status events.
type Unit struct {
	AgentID agent.ID
	Label   string
	Stream  agent.Stream
	Text    string
	// Ingress is the merger's counter value for the message that produced
	// (or completed) this unit.
	Ingress uint64
}

// Merger consumes tagged messages from all active agents and re-exposes
// them as a single ordered sequence under one strategy.
type Merger struct {
	strategy Strategy
	in       <-chan agent.Message
	out      chan Unit

	stopOnce sync.Once
	stop     chan struct{}

	// Owned by the run goroutine; the single-consumer design is what makes
	// total ordering via the ingress counter well-defined without locking.
	ingress  uint64
	partials map[agent.ID][]byte
	blocks   map[agent.ID]*bytes.Buffer
	labels   map[agent.ID]string

	mu   sync.Mutex
	view []Unit
}

// New creates a merger reading from in. Call Run in its own goroutine and
// Stop once the pool has settled.
func New(strategy Strategy, in <-chan agent.Message) *Merger {
	return &Merger{
		strategy: strategy,
		in:       in,
		out:      make(chan Unit, 256),
		stop:     make(chan struct{}),
		partials: make(map[agent.ID][]byte),
		blocks:   make(map[agent.ID]*bytes.Buffer),
		labels:   make(map[agent.ID]string),
	}
}

// Units is the merged, append-only sequence. Closed after Stop once all
// pending input has been drained; consumers must keep receiving until the
// close so drained units are never stranded.
func (m *Merger) Units() <-chan Unit {
	return m.out
}

// View returns a copy of every unit emitted so far. The view is a
// deterministic function of message arrival order plus the strategy; it is
// never mutated independently.
func (m *Merger) View() []Unit {
	m.mu.Lock()
	defer m.mu.Unlock()
	view := make([]Unit, len(m.view))
	copy(view, m.view)
	return view
}

// Stop ends the run loop after draining whatever input is already pending.
func (m *Merger) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

// Run processes ingress strictly one message at a time until Stop. Blocks;
// run it in its own goroutine.
func (m *Merger) Run() {
	defer close(m.out)
	for {
		select {
		case msg := <-m.in:
			m.ingest(msg)
		case <-m.stop:
			// Drain messages that raced the stop signal, then flush any
			// trailing per-agent state.
			for {
				select {
				case msg := <-m.in:
					m.ingest(msg)
					continue
				default:
				}
				break
			}
			m.flushLeftovers()
			return
		}
	}
}

func (m *Merger) ingest(msg agent.Message) {
	seq := m.ingress
	m.ingress++
	m.labels[msg.AgentID] = msg.Label

	switch m.strategy {
	case Interleaved:
		m.emit(Unit{AgentID: msg.AgentID, Label: msg.Label, Stream: msg.Stream, Text: string(msg.Data), Ingress: seq})

	case LineBuffered:
		if msg.Stream == agent.StreamStatus {
			if msg.Final {
				m.flushPartial(msg.AgentID, msg.Label, seq)
			}
			m.emit(Unit{AgentID: msg.AgentID, Label: msg.Label, Stream: agent.StreamStatus, Text: string(msg.Data), Ingress: seq})
			return
		}
		m.ingestLines(msg, seq)

	case Grouped:
		if msg.Stream == agent.StreamStatus {
			if msg.Final {
				m.flushBlock(msg.AgentID, msg.Label, seq)
			}
			m.emit(Unit{AgentID: msg.AgentID, Label: msg.Label, Stream: agent.StreamStatus, Text: string(msg.Data), Ingress: seq})
			return
		}
		buf, ok := m.blocks[msg.AgentID]
		if !ok {
			buf = &bytes.Buffer{}
			m.blocks[msg.AgentID] = buf
		}
		buf.Write(msg.Data)
	}
}

// ingestLines appends the chunk to the agent's partial buffer and emits one
// unit per complete line. The trailing partial stays buffered for the next
// chunk; it is only ever flushed at the agent's terminal transition.
func (m *Merger) ingestLines(msg agent.Message, seq uint64) {
	partial := append(m.partials[msg.AgentID], msg.Data...)

	for {
		idx := bytes.IndexByte(partial, '\n')
		if idx < 0 {
			break
		}
		// Ptys deliver CRLF; strip the CR along with the newline.
		line := strings.TrimSuffix(string(partial[:idx]), "\r")
		partial = partial[idx+1:]
		m.emit(Unit{AgentID: msg.AgentID, Label: msg.Label, Stream: agent.StreamOutput, Text: line, Ingress: seq})
	}

	m.partials[msg.AgentID] = partial
}

// flushPartial emits an agent's unterminated remainder, exactly once.
func (m *Merger) flushPartial(id agent.ID, label string, seq uint64) {
	partial := m.partials[id]
	delete(m.partials, id)
	if len(partial) == 0 {
		return
	}
	line := strings.TrimSuffix(string(partial), "\r")
	m.emit(Unit{AgentID: id, Label: label, Stream: agent.StreamOutput, Text: line, Ingress: seq})
}

// flushBlock emits an agent's buffered output as one atomic block.
func (m *Merger) flushBlock(id agent.ID, label string, seq uint64) {
	buf := m.blocks[id]
	delete(m.blocks, id)
	if buf == nil || buf.Len() == 0 {
		return
	}
	m.emit(Unit{AgentID: id, Label: label, Stream: agent.StreamOutput, Text: buf.String(), Ingress: seq})
}

// flushLeftovers drains per-agent state for agents that never reached a
// terminal transition before Stop (e.g. an aborted run), keeping each
// agent's display label.
func (m *Merger) flushLeftovers() {
	for id := range m.partials {
		m.flushPartial(id, m.labels[id], m.ingress)
		m.ingress++
	}
	for id := range m.blocks {
		m.flushBlock(id, m.labels[id], m.ingress)
		m.ingress++
	}
}

func (m *Merger) emit(u Unit) {
	m.mu.Lock()
	m.view = append(m.view, u)
	m.mu.Unlock()

	// Blocking send: backpressure propagates to the producing agents.
	// Consumers read Units to close after Stop, so the send is always
	// bounded and every unit emitted reaches the stream, including those
	// from the post-Stop drain and flush.
	m.out <- u
}
