package sseengine

import (
	"errors"
	"testing"
	"time"
)

// TestEngine_SkipIdleCheckGatesOnIdleTick verifies UnCheckConnectStatePaths
// (via Config.SkipIdleCheck) suppresses onIdleTick's connection-state
// transition for a matching active request path, and that the same tick
// still fires normally once the active path no longer matches.
func TestEngine_SkipIdleCheckGatesOnIdleTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeoutSeconds = 0.001
	cfg.ExceptionTimeoutSeconds = 1000
	cfg.UnCheckConnectStatePaths = []string{"/no-idle"}
	engine := NewEngine(cfg, nil)

	engine.mu.Lock()
	engine.lastActiveAt = time.Now().Add(-time.Minute)
	engine.activeReqURL = "/no-idle/stream"
	engine.mu.Unlock()

	engine.onIdleTick()
	if engine.connect.State() != DisconnectNormal {
		t.Fatalf("expected idle tick to be skipped for a configured path, got state %v", engine.connect.State())
	}

	engine.mu.Lock()
	engine.activeReqURL = "/other/stream"
	engine.mu.Unlock()

	engine.onIdleTick()
	if engine.connect.State() != ConnectIdle {
		t.Fatalf("expected idle tick to transition to ConnectIdle for a non-configured path, got %v", engine.connect.State())
	}
}

// TestEngine_SubscribeAfterCloseReturnsErrEngineClosed verifies Subscribe
// refuses to mutate the registry once Close has run.
func TestEngine_SubscribeAfterCloseReturnsErrEngineClosed(t *testing.T) {
	engine := NewEngine(nil, nil)
	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ok, err := engine.Subscribe(&Subscriber{Name: "late"}, false)
	if ok {
		t.Fatalf("expected Subscribe to refuse registration after Close")
	}
	if !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}
