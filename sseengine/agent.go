package sseengine

import "time"

// AgentStream is a named side-stream the caller owns and feeds directly
// (spec §4.6 "Agent streams"), distinct from the single primary stream the
// Engine drives from the installed HTTP interceptor. A typical caller is a
// secondary data source (for example, a platform push channel) that should
// flow through the same filter/dispatch pipeline without opening another
// HTTP request.
type AgentStream struct {
	key      string
	engine   *Engine
	adapter  StreamAdapter
	withPeek bool
	direct   bool
	reqURL   string
}

// OpenAgentStream registers a new agent stream under key and synthesizes
// its stream-open marker. withPeek controls whether admitted events are
// also written to the peek cache; direct, when true, bypasses the cache
// pool entirely and dispatches each event straight to the registry instead
// of going through the paced main cache.
func (e *Engine) OpenAgentStream(key string, withPeek, direct bool) *AgentStream {
	a := &AgentStream{
		key:      key,
		engine:   e,
		adapter:  e.newAdapter(),
		withPeek: withPeek,
		direct:   direct,
		reqURL:   key,
	}

	e.agentsMu.Lock()
	e.agents[key] = a
	e.agentsMu.Unlock()

	open := Event{SessionLogID: SessionLogIDStreamOpen, ElementType: EventTypeStreamOpen}
	a.dispatch(e.filter.Apply(open))
	return a
}

// Feed decodes chunk through the agent's own adapter instance and dispatches
// every legal decoded event (after filter expansion) per the stream's
// configured admission mode.
func (a *AgentStream) Feed(chunk string) {
	events := a.adapter.Feed(chunk)
	if len(events) == 0 {
		return
	}
	var expanded []Event
	for _, ev := range events {
		expanded = append(expanded, a.engine.filter.Apply(ev)...)
	}
	a.dispatch(expanded)
}

// dispatch routes legal events either through the cache pool (paced, via
// Engine.popCallback) or directly to the registry, per the stream's direct
// flag.
func (a *AgentStream) dispatch(events []Event) {
	legal := events[:0]
	for _, ev := range events {
		if ev.IsLegal() {
			legal = append(legal, ev)
		}
	}
	if len(legal) == 0 {
		return
	}

	if a.direct {
		for _, ev := range legal {
			cached := newCachedEvent(ev, a.reqURL, time.Now())
			a.engine.registry.Deliver(cached, false)
		}
		return
	}

	a.engine.cache.Put(legal, a.reqURL, a.engine.popCallback)
	if a.withPeek {
		a.engine.cache.PutPeek(legal, a.reqURL)
	}
}

// Done synthesizes the auto-remove marker for this agent stream (always
// admitted via the peek path, same as the primary stream's completion
// sequence in Engine.finishStream, so the internal AutoRemoveInterceptor
// observes it regardless of this stream's direct/withPeek mode) and, if
// removeFromAgents is true, forgets this agent's registration.
func (a *AgentStream) Done(removeFromAgents bool) {
	marker := Event{SessionLogID: SessionLogIDAutoRemove, ElementType: EventTypeAutoRemove}
	a.engine.cache.PutPeek(a.engine.filter.Apply(marker), a.reqURL)
	a.engine.cache.FlushPeek(a.engine.peekPopCallback)

	if removeFromAgents {
		a.engine.agentsMu.Lock()
		delete(a.engine.agents, a.key)
		a.engine.agentsMu.Unlock()
	}
}
