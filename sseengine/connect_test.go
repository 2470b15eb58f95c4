package sseengine

import "testing"

// TestConnectManager_InitialState verifies the manager starts in
// DisconnectNormal.
func TestConnectManager_InitialState(t *testing.T) {
	m := NewConnectManager()
	if m.State() != DisconnectNormal {
		t.Fatalf("expected initial state DisconnectNormal, got %v", m.State())
	}
}

// TestConnectManager_GateSuspendBlocksExceptionIdleActive verifies the
// first gating rule: from ConnectSuspend, transitions to Exception, Idle,
// or Active are all rejected without force.
func TestConnectManager_GateSuspendBlocksExceptionIdleActive(t *testing.T) {
	for _, to := range []ConnectionState{ConnectException, ConnectIdle, ConnectActive} {
		m := NewConnectManager()
		m.Transition(ConnectSuspend, true)
		if changed := m.Transition(to, false); changed {
			t.Fatalf("expected transition from Suspend to %v to be gated", to)
		}
		if m.State() != ConnectSuspend {
			t.Fatalf("expected state to remain Suspend, got %v", m.State())
		}
	}
}

// TestConnectManager_GateDisconnectNormalBlocksException verifies the
// second gating rule.
func TestConnectManager_GateDisconnectNormalBlocksException(t *testing.T) {
	m := NewConnectManager()
	if changed := m.Transition(ConnectException, false); changed {
		t.Fatalf("expected transition from DisconnectNormal to Exception to be gated")
	}
	if m.State() != DisconnectNormal {
		t.Fatalf("expected state unchanged, got %v", m.State())
	}
}

// TestConnectManager_GateExceptionAndErrorBlockIdle verifies the third
// gating rule: from ConnectException or DisconnectError, a transition to
// Idle is rejected without force.
func TestConnectManager_GateExceptionAndErrorBlockIdle(t *testing.T) {
	for _, from := range []ConnectionState{ConnectException, DisconnectError} {
		m := NewConnectManager()
		m.Transition(from, true)
		if changed := m.Transition(ConnectIdle, false); changed {
			t.Fatalf("expected transition from %v to Idle to be gated", from)
		}
	}
}

// TestConnectManager_ForceBypassesGate verifies force=true bypasses every
// gating rule.
func TestConnectManager_ForceBypassesGate(t *testing.T) {
	m := NewConnectManager()
	m.Transition(ConnectSuspend, true)
	if changed := m.Transition(ConnectActive, true); !changed {
		t.Fatalf("expected forced transition to succeed")
	}
	if m.State() != ConnectActive {
		t.Fatalf("expected state Active, got %v", m.State())
	}
}

// TestConnectManager_NoOpTransitionReturnsFalse verifies that transitioning
// to the current state reports no change and does not fan out to
// observers.
func TestConnectManager_NoOpTransitionReturnsFalse(t *testing.T) {
	calls := 0
	m := NewConnectManager()
	m.AddObserver(&ConnectionObserver{Name: "o", OnChange: func(ConnectionState) bool { calls++; return false }})

	if changed := m.Transition(DisconnectNormal, true); changed {
		t.Fatalf("expected no-op transition to report no change")
	}
	if calls != 0 {
		t.Fatalf("expected no observer fan-out on no-op transition, got %d calls", calls)
	}
}

// TestConnectManager_ObserverPriorityOrderAndShortCircuit verifies
// observers fire in priority-descending order (stable for ties) and that
// an observer returning true halts further fan-out.
func TestConnectManager_ObserverPriorityOrderAndShortCircuit(t *testing.T) {
	var order []string
	m := NewConnectManager()
	m.AddObserver(&ConnectionObserver{Name: "low", Priority: 1, OnChange: func(ConnectionState) bool {
		order = append(order, "low")
		return false
	}})
	m.AddObserver(&ConnectionObserver{Name: "high", Priority: 100, OnChange: func(ConnectionState) bool {
		order = append(order, "high")
		return true
	}})
	m.AddObserver(&ConnectionObserver{Name: "mid", Priority: 50, OnChange: func(ConnectionState) bool {
		order = append(order, "mid")
		return false
	}})

	m.Transition(ConnectActive, true)

	if len(order) != 1 || order[0] != "high" {
		t.Fatalf("expected only the highest-priority observer to fire, got %v", order)
	}
}

// TestConnectManager_AddObserverReplacesSameName verifies AddObserver
// replaces an existing observer registered under the same name rather than
// appending a duplicate.
func TestConnectManager_AddObserverReplacesSameName(t *testing.T) {
	calls := 0
	m := NewConnectManager()
	m.AddObserver(&ConnectionObserver{Name: "o", OnChange: func(ConnectionState) bool { calls += 1; return false }})
	m.AddObserver(&ConnectionObserver{Name: "o", OnChange: func(ConnectionState) bool { calls += 10; return false }})

	m.Transition(ConnectActive, true)

	if calls != 10 {
		t.Fatalf("expected only the replacement observer to fire, calls=%d", calls)
	}
}

// TestConnectManager_RemoveObserver verifies RemoveObserver drops an
// observer by identity.
func TestConnectManager_RemoveObserver(t *testing.T) {
	calls := 0
	obs := &ConnectionObserver{Name: "o", OnChange: func(ConnectionState) bool { calls++; return false }}
	m := NewConnectManager()
	m.AddObserver(obs)
	m.RemoveObserver(obs)

	m.Transition(ConnectActive, true)

	if calls != 0 {
		t.Fatalf("expected removed observer not to fire, got %d calls", calls)
	}
}

// TestConnectManager_IsConnectedAndIsAbnormal verifies the state
// classification helpers.
func TestConnectManager_IsConnectedAndIsAbnormal(t *testing.T) {
	connected := []ConnectionState{ConnectActive, ConnectIdle, ConnectException, ConnectSuspend}
	disconnected := []ConnectionState{DisconnectRepairing, DisconnectError, DisconnectNormal}

	for _, s := range connected {
		m := NewConnectManager()
		m.Transition(s, true)
		if !m.IsConnected() {
			t.Fatalf("expected %v to be connected", s)
		}
	}
	for _, s := range disconnected {
		m := NewConnectManager()
		m.Transition(s, true)
		if m.IsConnected() {
			t.Fatalf("expected %v not to be connected", s)
		}
	}

	if !ConnectException.IsAbnormal() || !DisconnectError.IsAbnormal() {
		t.Fatalf("expected ConnectException and DisconnectError to be abnormal")
	}
	if ConnectActive.IsAbnormal() || ConnectIdle.IsAbnormal() {
		t.Fatalf("expected ConnectActive and ConnectIdle not to be abnormal")
	}
}
