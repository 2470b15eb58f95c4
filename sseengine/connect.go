package sseengine

import (
	"sort"
	"sync"
)

// ConnectionState is one of the 7 logical states of the underlying stream
// connection.
type ConnectionState int

const (
	ConnectActive ConnectionState = iota
	ConnectIdle
	ConnectException
	ConnectSuspend
	DisconnectRepairing
	DisconnectError
	DisconnectNormal
)

// String renders a ConnectionState for logging.
func (s ConnectionState) String() string {
	switch s {
	case ConnectActive:
		return "connectActive"
	case ConnectIdle:
		return "connectIdle"
	case ConnectException:
		return "connectException"
	case ConnectSuspend:
		return "connectSuspend"
	case DisconnectRepairing:
		return "disconnectRepairing"
	case DisconnectError:
		return "disconnectError"
	case DisconnectNormal:
		return "disconnectNormal"
	default:
		return "unknown"
	}
}

// IsAbnormal reports whether s is one of the two abnormal states.
func (s ConnectionState) IsAbnormal() bool {
	return s == ConnectException || s == DisconnectError
}

// isConnected reports whether s counts as "connected" for IsConnected().
func (s ConnectionState) isConnected() bool {
	switch s {
	case ConnectActive, ConnectIdle, ConnectException, ConnectSuspend:
		return true
	default:
		return false
	}
}

// ConnectionObserver is notified of accepted state transitions in
// priority-descending order. Returning true halts further fan-out for that
// transition.
type ConnectionObserver struct {
	Name     string
	Priority int
	OnChange func(state ConnectionState) bool
}

// gate reports whether the non-forced transition from -> to is rejected by
// one of the spec's gating rules.
func gate(from, to ConnectionState) bool {
	switch from {
	case ConnectSuspend:
		switch to {
		case ConnectException, ConnectIdle, ConnectActive:
			return true
		}
	case DisconnectNormal:
		if to == ConnectException {
			return true
		}
	case ConnectException, DisconnectError:
		if to == ConnectIdle {
			return true
		}
	}
	return false
}

// ConnectManager is the connection-state FSM with priority-ordered observer
// fan-out. It is safe for concurrent use.
type ConnectManager struct {
	mu        sync.Mutex
	state     ConnectionState
	observers []*ConnectionObserver
}

// NewConnectManager constructs a manager starting in DisconnectNormal.
func NewConnectManager() *ConnectManager {
	return &ConnectManager{state: DisconnectNormal}
}

// State returns the current state.
func (m *ConnectManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the current state counts as connected.
func (m *ConnectManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.isConnected()
}

// AddObserver registers obs, replacing any existing observer with the same
// Name.
func (m *ConnectManager) AddObserver(obs *ConnectionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.observers {
		if existing.Name == obs.Name {
			m.observers[i] = obs
			return
		}
	}
	m.observers = append(m.observers, obs)
}

// RemoveObserver removes obs by identity.
func (m *ConnectManager) RemoveObserver(obs *ConnectionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.observers[:0]
	for _, existing := range m.observers {
		if existing != obs {
			kept = append(kept, existing)
		}
	}
	m.observers = kept
}

// Transition attempts to move to `to`. Non-forced transitions are subject
// to the gating rules in the spec; forced transitions always succeed. A
// transition that is accepted and actually changes the state fires
// observers in priority-descending order (stable for ties); an observer
// returning true halts further fan-out. Transition reports whether the
// state actually changed.
func (m *ConnectManager) Transition(to ConnectionState, force bool) bool {
	m.mu.Lock()
	if !force && gate(m.state, to) {
		m.mu.Unlock()
		return false
	}
	changed := m.state != to
	m.state = to
	observers := make([]*ConnectionObserver, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	if !changed {
		return false
	}

	sort.SliceStable(observers, func(i, j int) bool {
		return observers[i].Priority > observers[j].Priority
	})
	for _, obs := range observers {
		if obs.OnChange(to) {
			break
		}
	}
	return true
}
