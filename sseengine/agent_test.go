package sseengine

import (
	"testing"
	"time"
)

// TestAgentStream_DirectDispatchBypassesCache verifies a direct agent
// stream delivers straight to the registry without touching the main
// cache.
func TestAgentStream_DirectDispatchBypassesCache(t *testing.T) {
	engine := NewEngine(nil, nil)

	received := make(chan Event, 1)
	if _, err := engine.Subscribe(&Subscriber{
		Name:    "catcher",
		Watches: []WatchSpec{{EventType: "text"}},
		Callback: func(chain *Chain, resp Response) Response {
			received <- resp.Event
			return resp
		},
	}, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	agent := engine.OpenAgentStream("agent-1", false, true)
	agent.Feed(`data:{"elementType":"text","sessionLogId":"s1","result":"hi"}>s`)

	select {
	case ev := <-received:
		if ev.SessionLogID != "s1" {
			t.Fatalf("unexpected event: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for direct dispatch")
	}
	if engine.cache.MainLen() != 0 {
		t.Fatalf("expected direct mode not to touch the main cache, got len %d", engine.cache.MainLen())
	}
}

// TestAgentStream_CacheRoutedDispatchUsesMainCache verifies a non-direct
// agent stream routes through the paced main cache.
func TestAgentStream_CacheRoutedDispatchUsesMainCache(t *testing.T) {
	engine := NewEngine(fastConfig(), nil)

	received := make(chan Event, 1)
	if _, err := engine.Subscribe(&Subscriber{
		Name:    "catcher",
		Watches: []WatchSpec{{EventType: "text"}},
		Callback: func(chain *Chain, resp Response) Response {
			resp.RemoveCache = true
			received <- resp.Event
			return resp
		},
	}, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	agent := engine.OpenAgentStream("agent-2", false, false)
	agent.Feed(`data:{"elementType":"text","sessionLogId":"s2","result":"hi"}>s`)

	select {
	case ev := <-received:
		if ev.SessionLogID != "s2" {
			t.Fatalf("unexpected event: %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cache-routed dispatch")
	}
}

// TestAgentStream_DoneAlwaysRoutesAutoRemoveThroughPeek verifies that even
// a direct-mode agent stream's completion marker still reaches the
// peek-only internal AutoRemoveInterceptor, pruning stream-scoped
// subscribers.
func TestAgentStream_DoneAlwaysRoutesAutoRemoveThroughPeek(t *testing.T) {
	engine := NewEngine(nil, nil)
	engine.registerAutoRemoveInterceptor()

	destroyed := make(chan struct{}, 1)
	sub := &Subscriber{
		Name:              "stream-scoped",
		AutoClearStrategy: AutoClearStream,
		Watches:           []WatchSpec{{EventType: "text"}},
		Callback:          func(chain *Chain, resp Response) Response { return resp },
		OnDestroy: func(name string) {
			select {
			case destroyed <- struct{}{}:
			default:
			}
		},
	}
	if _, err := engine.Subscribe(sub, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	agent := engine.OpenAgentStream("agent-3", false, true)
	agent.Done(true)

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatalf("expected Done to prune stream-scoped subscribers via the peek path")
	}

	engine.agentsMu.Lock()
	_, stillRegistered := engine.agents["agent-3"]
	engine.agentsMu.Unlock()
	if stillRegistered {
		t.Fatalf("expected Done(true) to forget the agent's registration")
	}
}
