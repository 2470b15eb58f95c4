package sseengine

import "testing"

// TestChain_PriorityTerminatesWithoutProceed covers spec scenario 3: A
// (priority 100) returns without calling chain.Proceed, so B (priority 10)
// is never invoked.
func TestChain_PriorityTerminatesWithoutProceed(t *testing.T) {
	var ranA, ranB bool

	a := &Subscriber{Name: "A", Callback: func(chain *Chain, resp Response) Response {
		ranA = true
		return resp
	}}
	b := &Subscriber{Name: "B", Callback: func(chain *Chain, resp Response) Response {
		ranB = true
		return resp
	}}

	chain := newChain([]*Subscriber{a, b})
	chain.Proceed(Response{Event: Event{ElementType: "text"}})

	if !ranA {
		t.Fatalf("expected A to run")
	}
	if ranB {
		t.Fatalf("expected B not to run, A terminated the chain")
	}
}

// TestChain_ExplicitProceedContinuesFromCallback covers the second half of
// spec scenario 3: when A's own callback explicitly calls chain.Proceed,
// both A and B run, A first.
func TestChain_ExplicitProceedContinuesFromCallback(t *testing.T) {
	var order []string

	a := &Subscriber{Name: "A", Callback: func(chain *Chain, resp Response) Response {
		order = append(order, "A")
		return chain.Proceed(resp)
	}}
	b := &Subscriber{Name: "B", Callback: func(chain *Chain, resp Response) Response {
		order = append(order, "B")
		return resp
	}}

	chain := newChain([]*Subscriber{a, b})
	chain.Proceed(Response{Event: Event{ElementType: "text"}})

	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("expected order [A B], got %v", order)
	}
}

// TestChain_GoThroughRunsAfterTermination covers spec scenario 4: A
// terminates without Proceed; C (normal, lower priority) never runs because
// A terminated; B (GoThrough=true) still runs afterward.
func TestChain_GoThroughRunsAfterTermination(t *testing.T) {
	var order []string

	a := &Subscriber{Name: "A", Callback: func(chain *Chain, resp Response) Response {
		order = append(order, "A")
		return resp
	}}
	b := &Subscriber{Name: "B", GoThrough: true, Callback: func(chain *Chain, resp Response) Response {
		order = append(order, "B")
		return resp
	}}
	c := &Subscriber{Name: "C", Callback: func(chain *Chain, resp Response) Response {
		order = append(order, "C")
		return resp
	}}

	// Registry sorts by priority descending before building the chain; here
	// the ordering (A, C, B) reflects priorities 100, 50, 1 respectively.
	chain := newChain([]*Subscriber{a, c, b})
	chain.Proceed(Response{Event: Event{ElementType: "text"}})

	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("expected order [A B] (C skipped), got %v", order)
	}
}

// TestChain_NotifiedTracksInvocationOrder verifies Chain.Notified reports
// every subscriber actually invoked, in invocation order.
func TestChain_NotifiedTracksInvocationOrder(t *testing.T) {
	a := &Subscriber{Name: "A", Callback: func(chain *Chain, resp Response) Response {
		return chain.Proceed(resp)
	}}
	b := &Subscriber{Name: "B", Callback: func(chain *Chain, resp Response) Response {
		return resp
	}}

	chain := newChain([]*Subscriber{a, b})
	chain.Proceed(Response{Event: Event{ElementType: "text"}})

	notified := chain.Notified()
	if len(notified) != 2 || notified[0].Name != "A" || notified[1].Name != "B" {
		t.Fatalf("unexpected notified list: %v", names(notified))
	}
}

func names(subs []*Subscriber) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.Name
	}
	return out
}
