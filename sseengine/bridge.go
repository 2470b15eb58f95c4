package sseengine

import "sync"

// BridgeState mirrors the `state` field of a bridge update bundle.
type BridgeState string

const (
	BridgeStreamEnd   BridgeState = "StreamEnd"
	BridgeStreamError BridgeState = "StreamError"
	BridgeStreamData  BridgeState = "Data"
)

// BridgeUpdate is one update handed to a BridgeRouter: a chunk of bytes (or
// none, for a pure end/error signal) for a given stream id.
type BridgeUpdate struct {
	StreamID string
	Data     []byte
	State    BridgeState
}

// BridgeRouter is the injectable stand-in for the out-of-scope native
// byte-bridge: a process-wide singleton in the original design, modeled
// here as an explicit handle the host process owns and injects, per the
// spec's own design note (§9: "prefer an explicit registry owned by the
// host process with an injected handle rather than a hidden singleton").
//
// It buffers bytes per streamId and exposes them as a resumable sequence of
// text chunks. Completion is signalled in-band by a BridgeStreamEnd or
// BridgeStreamError update, not by closing the channel, so a registered
// reader never needs to distinguish "closed" from "nothing sent yet".
//
// Engine.runReader is the production consumer: it registers a streamID
// before the response body starts draining and reads BridgeUpdates from the
// returned channel instead of the body directly, with Engine.pumpBridge
// driving Dispatch from the other end.
type BridgeRouter interface {
	// Register begins routing updates for streamID to the returned
	// channel.
	Register(streamID string) <-chan BridgeUpdate

	// Unregister stops routing updates for streamID and releases its
	// buffer. Safe to call even if nothing is registered.
	Unregister(streamID string)

	// Dispatch delivers an update to the registered channel for its
	// StreamID, if any. Updates for unregistered streams are dropped. If
	// the channel's buffer is full, the update is dropped rather than
	// blocking the dispatcher.
	Dispatch(update BridgeUpdate)
}

// inProcessBridge is a minimal BridgeRouter implementation usable both by
// tests and by a host process that does not have a real native layer (for
// example, an HTTP response body read loop can synthesize BridgeUpdate
// values itself instead of going through a platform bridge).
type inProcessBridge struct {
	mu      sync.Mutex
	streams map[string]chan BridgeUpdate
}

// NewInProcessBridge constructs a BridgeRouter backed by plain Go channels.
func NewInProcessBridge() BridgeRouter {
	return &inProcessBridge{streams: make(map[string]chan BridgeUpdate)}
}

func (b *inProcessBridge) Register(streamID string) <-chan BridgeUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan BridgeUpdate, 16)
	b.streams[streamID] = ch
	return ch
}

// Unregister deletes the stream's channel without closing it. Dispatch
// always does its map lookup and send in one critical section, so a
// concurrent Dispatch for this streamID either finds the channel and sends
// before this call removes it, or finds nothing after; either way there is
// no window in which a send can race a close.
func (b *inProcessBridge) Unregister(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, streamID)
}

func (b *inProcessBridge) Dispatch(update BridgeUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.streams[update.StreamID]
	if !ok {
		return
	}
	select {
	case ch <- update:
	default:
	}
}
