package sseengine

import (
	"sync"
	"testing"
	"time"
)

// TestInProcessBridge_DispatchDeliversToRegisteredStream verifies a basic
// Register/Dispatch/receive round trip.
func TestInProcessBridge_DispatchDeliversToRegisteredStream(t *testing.T) {
	b := NewInProcessBridge()
	updates := b.Register("s1")

	b.Dispatch(BridgeUpdate{StreamID: "s1", Data: []byte("hello"), State: BridgeStreamData})

	select {
	case u := <-updates:
		if string(u.Data) != "hello" || u.State != BridgeStreamData {
			t.Fatalf("unexpected update: %#v", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for dispatched update")
	}
}

// TestInProcessBridge_DispatchToUnregisteredStreamIsNoOp verifies an update
// for a streamID that was never registered (or already unregistered) is
// silently dropped rather than panicking.
func TestInProcessBridge_DispatchToUnregisteredStreamIsNoOp(t *testing.T) {
	b := NewInProcessBridge()
	b.Dispatch(BridgeUpdate{StreamID: "ghost", State: BridgeStreamEnd})
}

// TestInProcessBridge_UnregisterThenDispatchNeverPanics exercises the
// Unregister/Dispatch race directly: one goroutine repeatedly unregisters
// and re-registers a streamID while another repeatedly dispatches to it.
// Unregister no longer closes the channel, so a racing Dispatch can never
// send on a closed channel.
func TestInProcessBridge_UnregisterThenDispatchNeverPanics(t *testing.T) {
	b := NewInProcessBridge()
	const streamID = "racer"
	b.Register(streamID)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.Dispatch(BridgeUpdate{StreamID: streamID, State: BridgeStreamData})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.Unregister(streamID)
			b.Register(streamID)
		}
	}()

	wg.Wait()
}

// TestInProcessBridge_DispatchDropsWhenBufferFull verifies a full buffer
// drops rather than blocks the dispatcher.
func TestInProcessBridge_DispatchDropsWhenBufferFull(t *testing.T) {
	b := NewInProcessBridge()
	b.Register("full")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 32; i++ {
			b.Dispatch(BridgeUpdate{StreamID: "full", State: BridgeStreamData})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Dispatch blocked instead of dropping once the buffer filled")
	}
}
