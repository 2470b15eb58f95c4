package sseengine

// Chain drives a chain-of-responsibility dispatch over an ordered list of
// matched subscribers. A subscriber terminates the chain by returning from
// its callback without calling Chain.Proceed; subscribers flagged GoThrough
// are still invoked afterwards, in "go-through mode".
type Chain struct {
	subscribers []*Subscriber
	index       int
	goThrough   bool

	// notified accumulates every subscriber actually invoked during this
	// dispatch, in invocation order, so the caller can update the cached
	// entry's notified set afterwards.
	notified []*Subscriber
}

// newChain builds a Chain over subscribers, starting before the first
// entry (index -1), as required by Proceed's "advance, then act" shape.
func newChain(subscribers []*Subscriber) *Chain {
	return &Chain{subscribers: subscribers, index: -1}
}

// Notified returns every subscriber invoked so far during this dispatch, in
// invocation order.
func (c *Chain) Notified() []*Subscriber {
	out := make([]*Subscriber, len(c.notified))
	copy(out, c.notified)
	return out
}

// Proceed advances the chain and invokes the next eligible subscriber.
//
// In normal mode it fires OnMatch, records, and invokes the subscriber at
// the current index, then continues in go-through mode from the returned
// response. In go-through mode it skips any subscriber with
// GoThrough=false and invokes every GoThrough=true subscriber it crosses,
// recursing with each one's returned response. Past the end of the list it
// returns resp unchanged.
func (c *Chain) Proceed(resp Response) Response {
	c.index++

	if !c.goThrough {
		if c.index >= len(c.subscribers) {
			return resp
		}
		s := c.subscribers[c.index]
		c.fireAndRecord(s, resp.Event.ElementType)
		next := s.Callback(c, resp)
		c.goThrough = true
		return c.Proceed(next)
	}

	for c.index < len(c.subscribers) {
		s := c.subscribers[c.index]
		if !s.GoThrough {
			c.index++
			continue
		}
		c.fireAndRecord(s, resp.Event.ElementType)
		next := s.Callback(c, resp)
		return c.Proceed(next)
	}
	return resp
}

// fireAndRecord fires OnMatch for s and appends it to the notified list.
func (c *Chain) fireAndRecord(s *Subscriber, elementType string) {
	s.fireOnMatch(elementType)
	c.notified = append(c.notified, s)
}
