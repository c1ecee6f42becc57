package pool

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByteMirror/runmux/agent"
	"github.com/ByteMirror/runmux/log"
)

func TestMain(m *testing.M) {
	log.Initialize()
	code := m.Run()
	log.Close()
	os.Exit(code)
}

func instances(commands ...string) []agent.Instance {
	insts := make([]agent.Instance, len(commands))
	for i, c := range commands {
		insts[i] = agent.Instance{Command: c}
	}
	return insts
}

// drainMessages keeps the output channel from backpressuring agents.
func drainMessages(p *Pool, stop chan struct{}) {
	go func() {
		for {
			select {
			case <-p.Messages():
			case <-stop:
				return
			}
		}
	}()
}

func newTestPool(t *testing.T, maxConcurrent int) *Pool {
	t.Helper()
	p := New(Config{
		MaxConcurrent: maxConcurrent,
		GracePeriod:   time.Second,
		KillMargin:    time.Second,
	})
	stop := make(chan struct{})
	drainMessages(p, stop)
	t.Cleanup(func() { close(stop) })
	return p
}

func TestSubmitAssignsUniqueIDs(t *testing.T) {
	p := newTestPool(t, 4)

	ids, err := p.Submit(instances("true", "true", "true"))
	require.NoError(t, err)
	require.Len(t, ids, 3)

	seen := make(map[agent.ID]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "ids must be unique")
		seen[id] = true
	}

	require.NoError(t, p.Wait(context.Background()))
}

func TestSubmitEmpty(t *testing.T) {
	p := newTestPool(t, 4)
	_, err := p.Submit(nil)
	require.Error(t, err)
}

func TestConcurrencyCap(t *testing.T) {
	p := newTestPool(t, 2)

	// Track the high-water mark of simultaneously running agents.
	var mu sync.Mutex
	running, peak := 0, 0
	p.cfg.OnTransition = func(snap agent.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case snap.Status == agent.Running:
			running++
			if running > peak {
				peak = running
			}
		case snap.Status.IsTerminal():
			running--
		}
	}

	_, err := p.Submit(instances(
		"sleep 0.1", "sleep 0.1", "sleep 0.1", "sleep 0.1", "sleep 0.1",
	))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2, "running agents must never exceed the cap")

	runningNow, queued, terminal := p.Counts()
	assert.Zero(t, runningNow)
	assert.Zero(t, queued)
	assert.Equal(t, 5, terminal)
}

func TestConservation(t *testing.T) {
	p := newTestPool(t, 3)

	ids, err := p.Submit(instances("true", "false", "true", "exit 2", "true", "true", "true"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	// Every submitted instance ends in exactly one terminal state.
	snaps := p.Status()
	require.Len(t, snaps, len(ids))
	for id, snap := range snaps {
		assert.True(t, snap.Status.IsTerminal(), "agent %d still %s", id, snap.Status)
	}
	assert.Equal(t, 0, snaps[ids[0]].ExitCode)
	assert.Equal(t, 1, snaps[ids[1]].ExitCode)
	assert.Equal(t, 2, snaps[ids[3]].ExitCode)
}

func TestCancelQueuedAgent(t *testing.T) {
	p := newTestPool(t, 1)

	ids, err := p.Submit(instances("sleep 5", "echo queued"))
	require.NoError(t, err)

	// The second agent is queued behind the sleeper; cancelling it must not
	// start its process.
	require.NoError(t, p.CancelAgent(ids[1]))
	require.NoError(t, p.CancelAgent(ids[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	snaps := p.Status()
	assert.Equal(t, agent.Terminated, snaps[ids[0]].Status)
	assert.Equal(t, agent.Terminated, snaps[ids[1]].Status)
	assert.True(t, snaps[ids[1]].StartedAt.IsZero(), "queued agent must never start")
}

func TestCancelUnknownAgent(t *testing.T) {
	p := newTestPool(t, 1)
	require.Error(t, p.CancelAgent(99))
}

func TestQueueAdmitsInSubmissionOrder(t *testing.T) {
	p := newTestPool(t, 1)

	var mu sync.Mutex
	var started []agent.ID
	p.cfg.OnTransition = func(snap agent.Snapshot) {
		if snap.Status == agent.Running {
			mu.Lock()
			started = append(started, snap.ID)
			mu.Unlock()
		}
	}

	ids, err := p.Submit(instances("true", "true", "true"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, started, "queue admission must be FIFO")
}

func TestShutdownAll(t *testing.T) {
	p := newTestPool(t, 4)

	ids, err := p.Submit(instances("sleep 30", "sleep 30", "sleep 30", "sleep 30", "sleep 30", "sleep 30"))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	snaps := p.ShutdownAll(context.Background())
	require.Len(t, snaps, len(ids))
	for id, snap := range snaps {
		assert.True(t, snap.Status.IsTerminal(), "agent %d survived shutdown in state %s", id, snap.Status)
	}

	// Further submissions are rejected.
	_, err = p.Submit(instances("true"))
	require.Error(t, err)
}

func TestStartFailureIsIsolated(t *testing.T) {
	p := New(Config{
		MaxConcurrent: 2,
		GracePeriod:   time.Second,
		KillMargin:    time.Second,
		WorkDir:       "/does/not/exist",
	})
	stop := make(chan struct{})
	drainMessages(p, stop)
	defer close(stop)

	ids, err := p.Submit(instances("true", "true"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	for _, id := range ids {
		assert.Equal(t, agent.Failed, p.Status()[id].Status)
	}
}

type captureRecorder struct {
	mu       sync.Mutex
	commands []string
}

func (r *captureRecorder) Record(command string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	return nil
}

func TestRecorderSeesStartedCommands(t *testing.T) {
	rec := &captureRecorder{}
	p := New(Config{
		MaxConcurrent: 1,
		GracePeriod:   time.Second,
		KillMargin:    time.Second,
		Recorder:      rec,
	})
	stop := make(chan struct{})
	drainMessages(p, stop)
	defer close(stop)

	_, err := p.Submit(instances("true", "true"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"true", "true"}, rec.commands)
}
