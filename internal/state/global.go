package state

import "sync/atomic"

// GlobalState carries the process-wide flags shared between the control
// loops and the API.
type GlobalState struct {
	conservative atomic.Bool
	shutdown     atomic.Bool
}

// NewGlobalState creates the global flags.
func NewGlobalState(conservative bool) *GlobalState {
	g := &GlobalState{}
	g.conservative.Store(conservative)
	return g
}

// Conservative reports whether conservative mode is active.
func (g *GlobalState) Conservative() bool { return g.conservative.Load() }

// SetConservative toggles conservative mode.
func (g *GlobalState) SetConservative(on bool) { g.conservative.Store(on) }

// ShuttingDown reports whether shutdown was requested.
func (g *GlobalState) ShuttingDown() bool { return g.shutdown.Load() }

// RequestShutdown signals every control loop to stop opening trades and
// wind down.
func (g *GlobalState) RequestShutdown() { g.shutdown.Store(true) }
