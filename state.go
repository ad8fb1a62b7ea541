package ivyloop

import "sync/atomic"

// runState is the externally-visible state machine from spec §4.2:
// idle → running → quitting → idle.
type runState uint32

const (
	stateIdle runState = iota
	stateRunning
	stateQuitting
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateQuitting:
		return "quitting"
	default:
		return "unknown"
	}
}

// atomicState is a lock-free wrapper around runState, ported from the
// teacher's FastState (eventloop/state.go), trimmed to the three states
// this spec exposes.
type atomicState struct {
	v atomic.Uint32
}

func (s *atomicState) load() runState { return runState(s.v.Load()) }

func (s *atomicState) store(to runState) { s.v.Store(uint32(to)) }

func (s *atomicState) compareAndSwap(from, to runState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
