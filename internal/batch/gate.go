package batch

import "sync"

// PauseGate holds workers before they pick up new work. The paused check and
// the wait registration happen under the same lock as the broadcast, so a
// Resume or Cancel can never be missed.
type PauseGate struct {
	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	cancelled bool
}

// NewPauseGate returns a gate in the running state.
func NewPauseGate() *PauseGate {
	g := &PauseGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Pause holds subsequent Wait calls until Resume or Cancel.
func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled {
		return
	}
	g.paused = true
}

// Resume releases every waiter.
func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
	g.cond.Broadcast()
}

// Cancel marks the gate cancelled and releases every waiter.
func (g *PauseGate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = true
	g.paused = false
	g.cond.Broadcast()
}

// Wait blocks while the gate is paused. It returns false once cancelled.
func (g *PauseGate) Wait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.paused && !g.cancelled {
		g.cond.Wait()
	}
	return !g.cancelled
}

// Paused reports whether the gate is currently holding workers.
func (g *PauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Cancelled reports whether Cancel has been called.
func (g *PauseGate) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}
