// Package pool admits, tracks and bounds concurrently running agents. The
// pool is the single writer of the agent tracking map; every other
// component observes agent state through read-only snapshots.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ByteMirror/runmux/agent"
	"github.com/ByteMirror/runmux/log"
)

// Config carries the plain values the pool needs at construction time.
// They are owned by the configuration layer, not by the pool.
type Config struct {
	// MaxConcurrent caps the number of agents running at once. Submissions
	// beyond the cap queue FIFO; a full pool is not an error.
	MaxConcurrent int
	// GracePeriod is how long a cancelled agent's child gets to exit after
	// SIGTERM before escalation.
	GracePeriod time.Duration
	// KillMargin is the additional wait after SIGKILL before an agent is
	// written off.
	KillMargin time.Duration
	// WorkDir is the working directory for spawned commands. Empty means
	// the caller's cwd.
	WorkDir string
	// Recorder, if set, is notified of every command the pool actually
	// starts. One-way: the pool never depends on the recorder's state.
	Recorder Recorder
	// OnTransition, if set, is called with a snapshot after every agent
	// status transition. Called from agent goroutines; must not block.
	OnTransition func(agent.Snapshot)
	// MessageBuffer is the capacity of the output message channel
	// (default 256). When it fills, agents block, which throttles their
	// children through the pty buffer.
	MessageBuffer int
}

// Pool supervises a set of agents under a concurrency cap.
type Pool struct {
	cfg Config
	out chan agent.Message

	mu          sync.Mutex
	cond        *sync.Cond
	agents      map[agent.ID]*agent.Agent
	queue       []*agent.Agent
	running     int
	outstanding int
	nextID      agent.ID
	shutdown    bool
}

// New creates a pool. The configuration values are validated with the same
// defaults the config package uses.
func New(cfg Config) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 3 * time.Second
	}
	if cfg.KillMargin <= 0 {
		cfg.KillMargin = time.Second
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = 256
	}
	p := &Pool{
		cfg:    cfg,
		out:    make(chan agent.Message, cfg.MessageBuffer),
		agents: make(map[agent.ID]*agent.Agent),
		nextID: 1,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Messages returns the channel all agents send their tagged output on.
// Feed it to a merger. The channel is never closed; consumers stop on
// their own signal.
func (p *Pool) Messages() <-chan agent.Message {
	return p.out
}

// Submit takes one atomic batch of command instances, assigns ids, and
// admits up to the concurrency cap immediately. The remainder queues in
// submission order and is admitted one-for-one as running agents reach a
// terminal state. Returns the assigned ids in submission order.
func (p *Pool) Submit(instances []agent.Instance) ([]agent.ID, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("empty submission")
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is shut down")
	}

	ids := make([]agent.ID, 0, len(instances))
	for _, inst := range instances {
		if inst.Dir == "" {
			inst.Dir = p.cfg.WorkDir
		}
		id := p.nextID
		p.nextID++

		ag := agent.New(id, inst, p.out, p.cfg.GracePeriod, p.cfg.KillMargin)
		ag.TransitionFunc = p.cfg.OnTransition
		p.agents[id] = ag
		p.queue = append(p.queue, ag)
		p.outstanding++
		ids = append(ids, id)

		go p.watch(ag)
	}
	p.admitLocked()
	p.mu.Unlock()

	log.InfoLog.Printf("submitted %d command(s), cap %d", len(instances), p.cfg.MaxConcurrent)
	return ids, nil
}

// admitLocked starts queued agents until the cap is reached. Caller holds
// p.mu.
func (p *Pool) admitLocked() {
	for p.running < p.cfg.MaxConcurrent && len(p.queue) > 0 {
		ag := p.queue[0]
		p.queue = p.queue[1:]
		p.running++
		go p.launch(ag)
	}
}

// launch records, starts and waits out one admitted agent, then frees its
// slot for the next queued one.
func (p *Pool) launch(ag *agent.Agent) {
	if p.cfg.Recorder != nil {
		if err := p.cfg.Recorder.Record(ag.Instance().Command, time.Now()); err != nil {
			log.WarningLog.Printf("history record failed: %v", err)
		}
	}

	// A start failure is isolated: the agent is already Failed (terminal)
	// and Done, siblings and the pool are unaffected.
	_ = ag.Start()
	<-ag.Done()

	p.mu.Lock()
	p.running--
	p.admitLocked()
	p.mu.Unlock()
}

// watch maintains the outstanding count for every agent, queued or running.
func (p *Pool) watch(ag *agent.Agent) {
	<-ag.Done()
	p.mu.Lock()
	p.outstanding--
	p.cond.Broadcast()
	p.mu.Unlock()
}

// ResizeAll propagates new terminal dimensions to every tracked agent's
// pty so children re-wrap at the right column.
func (p *Pool) ResizeAll(cols, rows uint16) {
	p.mu.Lock()
	tracked := make([]*agent.Agent, 0, len(p.agents))
	for _, ag := range p.agents {
		tracked = append(tracked, ag)
	}
	p.mu.Unlock()

	for _, ag := range tracked {
		ag.Resize(cols, rows)
	}
}

// Status returns a read-only snapshot of every tracked agent. This is the
// only way other components observe agent state.
func (p *Pool) Status() map[agent.ID]agent.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snaps := make(map[agent.ID]agent.Snapshot, len(p.agents))
	for id, ag := range p.agents {
		snaps[id] = ag.Snapshot()
	}
	return snaps
}

// Counts returns how many tracked agents are running, queued and terminal.
func (p *Pool) Counts() (running, queued, terminal int) {
	for _, snap := range p.Status() {
		switch {
		case snap.Status == agent.Running:
			running++
		case snap.Status == agent.Starting:
			queued++
		case snap.Status.IsTerminal():
			terminal++
		}
	}
	return running, queued, terminal
}

// CancelAgent cancels one agent. A queued agent is dropped from the queue
// without ever being started; a running one goes through signal
// escalation.
func (p *Pool) CancelAgent(id agent.ID) error {
	p.mu.Lock()
	ag, ok := p.agents[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("no agent with id %d", id)
	}
	for i, queued := range p.queue {
		if queued == ag {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	ag.Cancel()
	return nil
}

// Wait blocks until every submitted agent has reached a terminal state or
// the context is cancelled.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.outstanding > 0 {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownAll broadcasts cancellation to every tracked agent, waits for all
// of them concurrently (bounded by grace period + kill margin per agent,
// not per agent sequentially), and returns the final status map. After it
// returns, no process started by this pool remains alive: escalation is
// exhaustive, and even an unkillable child is written off as Terminated
// rather than stalling the pool.
func (p *Pool) ShutdownAll(ctx context.Context) map[agent.ID]agent.Snapshot {
	p.mu.Lock()
	p.shutdown = true
	p.queue = nil
	tracked := make([]*agent.Agent, 0, len(p.agents))
	for _, ag := range p.agents {
		tracked = append(tracked, ag)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, ag := range tracked {
		if ag.Snapshot().Status.IsTerminal() {
			continue
		}
		wg.Add(1)
		go func(ag *agent.Agent) {
			defer wg.Done()
			ag.Cancel()
			<-ag.Done()
		}(ag)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	bound := p.cfg.GracePeriod + p.cfg.KillMargin + time.Second
	select {
	case <-done:
	case <-time.After(bound):
		log.ErrorLog.Printf("shutdown did not settle within %v", bound)
	case <-ctx.Done():
		log.WarningLog.Printf("shutdown wait cancelled: %v", ctx.Err())
	}

	return p.Status()
}
