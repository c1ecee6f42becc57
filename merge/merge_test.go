package merge

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByteMirror/runmux/agent"
)

func output(id agent.ID, seq uint64, data string) agent.Message {
	return agent.Message{AgentID: id, Label: label(id), Seq: seq, Time: time.Now(), Stream: agent.StreamOutput, Data: []byte(data)}
}

func status(id agent.ID, seq uint64, text string, final bool) agent.Message {
	return agent.Message{AgentID: id, Label: label(id), Seq: seq, Time: time.Now(), Stream: agent.StreamStatus, Data: []byte(text), Final: final}
}

func label(id agent.ID) string {
	return map[agent.ID]string{1: "[n=1]", 2: "[n=2]"}[id]
}

// runMerge feeds the messages through a merger under the given strategy and
// returns the resulting view.
func runMerge(t *testing.T, strategy Strategy, msgs []agent.Message) []Unit {
	t.Helper()
	in := make(chan agent.Message, len(msgs))
	for _, m := range msgs {
		in <- m
	}

	m := New(strategy, in)
	done := make(chan struct{})
	go func() {
		m.Run()
		close(done)
	}()

	var units []Unit
	m.Stop()
	for u := range m.Units() {
		units = append(units, u)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("merger did not stop")
	}
	return units
}

func outputTexts(units []Unit) []string {
	var out []string
	for _, u := range units {
		if u.Stream == agent.StreamOutput {
			out = append(out, u.Text)
		}
	}
	return out
}

func TestInterleavedPassThrough(t *testing.T) {
	units := runMerge(t, Interleaved, []agent.Message{
		output(1, 0, "aaa"),
		output(2, 0, "bbb"),
		output(1, 1, "ccc"),
	})

	require.Len(t, units, 3)
	assert.Equal(t, "aaa", units[0].Text)
	assert.Equal(t, "bbb", units[1].Text)
	assert.Equal(t, "ccc", units[2].Text)
	assert.Equal(t, agent.ID(2), units[1].AgentID)
}

func TestIngressIsMonotonic(t *testing.T) {
	units := runMerge(t, Interleaved, []agent.Message{
		output(1, 0, "a"), output(2, 0, "b"), output(1, 1, "c"), output(2, 1, "d"),
	})

	require.Len(t, units, 4)
	for i := 1; i < len(units); i++ {
		assert.Greater(t, units[i].Ingress, units[i-1].Ingress)
	}
}

func TestLineBufferedSplitsChunksIntoLines(t *testing.T) {
	units := runMerge(t, LineBuffered, []agent.Message{
		output(1, 0, "hel"),
		output(1, 1, "lo\nwor"),
		output(1, 2, "ld\n"),
	})

	assert.Equal(t, []string{"hello", "world"}, outputTexts(units))
}

func TestLineBufferedNeverInterleavesWithinALine(t *testing.T) {
	// Two agents writing partial lines in alternation; each emitted line must
	// still come from a single agent.
	units := runMerge(t, LineBuffered, []agent.Message{
		output(1, 0, "one "),
		output(2, 0, "two "),
		output(1, 1, "fish\n"),
		output(2, 1, "fish\n"),
	})

	texts := outputTexts(units)
	assert.Equal(t, []string{"one fish", "two fish"}, texts)
}

func TestLineBufferedStripsCRLF(t *testing.T) {
	units := runMerge(t, LineBuffered, []agent.Message{
		output(1, 0, "alpha\r\nbeta\r\n"),
	})
	assert.Equal(t, []string{"alpha", "beta"}, outputTexts(units))
}

func TestLineBufferedFlushesPartialOnFinal(t *testing.T) {
	units := runMerge(t, LineBuffered, []agent.Message{
		status(1, 0, "started", false),
		output(1, 1, "no trailing newline"),
		status(1, 2, "completed", true),
	})

	assert.Equal(t, []string{"no trailing newline"}, outputTexts(units))

	// The flushed partial must precede the terminal status line.
	require.Len(t, units, 3)
	assert.Equal(t, agent.StreamStatus, units[0].Stream)
	assert.Equal(t, agent.StreamOutput, units[1].Stream)
	assert.Equal(t, "completed", units[2].Text)
}

func TestGroupedEmitsAtomicBlocksInCompletionOrder(t *testing.T) {
	// Agent 2 finishes first, so its block comes first even though agent 1
	// was submitted (and started writing) earlier.
	units := runMerge(t, Grouped, []agent.Message{
		output(1, 0, "first line of 1\n"),
		output(2, 0, "all of 2\n"),
		status(2, 1, "completed", true),
		output(1, 1, "second line of 1\n"),
		status(1, 2, "completed", true),
	})

	texts := outputTexts(units)
	require.Len(t, texts, 2)
	assert.Equal(t, "all of 2\n", texts[0])
	assert.Equal(t, "first line of 1\nsecond line of 1\n", texts[1])
}

func TestGroupedBlockPrecedesItsStatus(t *testing.T) {
	units := runMerge(t, Grouped, []agent.Message{
		output(1, 0, "payload\n"),
		status(1, 1, "completed", true),
	})

	require.Len(t, units, 2)
	assert.Equal(t, agent.StreamOutput, units[0].Stream)
	assert.Equal(t, agent.StreamStatus, units[1].Stream)
}

func TestStopFlushesLeftovers(t *testing.T) {
	// No terminal status ever arrives; Stop must still surface the partial,
	// with the agent's label intact.
	units := runMerge(t, LineBuffered, []agent.Message{
		output(1, 0, "dangling"),
	})
	assert.Equal(t, []string{"dangling"}, outputTexts(units))
	require.Len(t, units, 1)
	assert.Equal(t, "[n=1]", units[0].Label)
}

func TestStopFlushesGroupedLeftoversWithLabel(t *testing.T) {
	units := runMerge(t, Grouped, []agent.Message{
		output(2, 0, "unfinished block\n"),
	})
	require.Len(t, units, 1)
	assert.Equal(t, "unfinished block\n", units[0].Text)
	assert.Equal(t, "[n=2]", units[0].Label)
}

func TestStopDrainDeliversEveryUnit(t *testing.T) {
	// Far more lines than the output channel buffers: units emitted during
	// the post-Stop drain must still reach the stream, not just the view.
	const lines = 600
	msgs := make([]agent.Message, 0, lines)
	for i := 0; i < lines; i++ {
		msgs = append(msgs, output(1, uint64(i), fmt.Sprintf("line %d\n", i)))
	}

	units := runMerge(t, LineBuffered, msgs)
	require.Len(t, units, lines)
	assert.Equal(t, fmt.Sprintf("line %d", lines-1), units[lines-1].Text)
}

func TestViewMatchesStream(t *testing.T) {
	in := make(chan agent.Message, 4)
	in <- output(1, 0, "a\n")
	in <- output(2, 0, "b\n")

	m := New(LineBuffered, in)
	go m.Run()

	var streamed []Unit
	for len(streamed) < 2 {
		streamed = append(streamed, <-m.Units())
	}
	m.Stop()

	view := m.View()
	require.Len(t, view, 2)
	assert.Equal(t, streamed, view)
}

func TestParseStrategy(t *testing.T) {
	for input, want := range map[string]Strategy{
		"interleaved":   Interleaved,
		"line":          LineBuffered,
		"Line-Buffered": LineBuffered,
		"grouped":       Grouped,
	} {
		got, err := ParseStrategy(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseStrategy("bogus")
	require.Error(t, err)
}
