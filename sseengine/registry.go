package sseengine

import (
	"sort"
	"sync"
)

// DispatchResult carries the outcome of Registry.Deliver: the final
// response after the chain unwound, and every subscriber that was actually
// invoked (so the caller can update the cached entry's notified set).
type DispatchResult struct {
	Response Response
	Notified []*Subscriber
}

// Registry holds the set of registered subscribers and builds a Chain for
// each dispatched event. It is safe for concurrent use.
type Registry struct {
	mu          sync.Mutex
	subscribers []*Subscriber
	nextID      subscriberID
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers s. If isOnly is true and a subscriber with the same Name is
// already registered, Add refuses and returns false, leaving the registry
// unchanged. Otherwise s is appended and its OnCreate hook fires.
func (r *Registry) Add(s *Subscriber, isOnly bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if isOnly {
		for _, existing := range r.subscribers {
			if existing.Name == s.Name {
				return false
			}
		}
	}

	r.nextID++
	s.id = r.nextID
	r.subscribers = append(r.subscribers, s)
	s.fireOnCreate()
	return true
}

// Remove removes s exactly (by identity). Its OnDestroy hook fires exactly
// once; a second Remove of the same subscriber is a no-op.
func (r *Registry) Remove(s *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(func(c *Subscriber) bool { return c == s })
}

// RemoveStreamScoped removes every subscriber whose AutoClearStrategy is
// AutoClearStream, firing OnDestroy for each.
func (r *Registry) RemoveStreamScoped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(func(c *Subscriber) bool { return c.AutoClearStrategy == AutoClearStream })
}

// Reset removes every subscriber whose AutoClearStrategy is not
// AutoClearRound, firing OnDestroy for each removed subscriber.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(func(c *Subscriber) bool { return c.AutoClearStrategy != AutoClearRound })
}

// Destroy fires OnDestroy on every non-destroyed subscriber, then clears
// the registry. It is idempotent: a second call is a no-op.
func (r *Registry) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subscribers {
		s.fireOnDestroyOnce()
	}
	r.subscribers = nil
}

// removeLocked removes every subscriber matched by pred, firing OnDestroy
// for each. Caller must hold r.mu.
func (r *Registry) removeLocked(pred func(*Subscriber) bool) {
	kept := r.subscribers[:0]
	for _, s := range r.subscribers {
		if pred(s) {
			s.fireOnDestroyOnce()
			continue
		}
		kept = append(kept, s)
	}
	r.subscribers = kept
}

// Snapshot returns a copy of the currently registered subscribers, safe to
// range over without holding the registry lock.
func (r *Registry) Snapshot() []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscriber, len(r.subscribers))
	copy(out, r.subscribers)
	return out
}

// matchedSub pairs a matched subscriber with the priority of the WatchSpec
// that matched it. It is a local value, not shared subscriber state, so
// concurrent dispatches (main-path and peek-path run from different
// goroutines) never race over which spec matched.
type matchedSub struct {
	sub      *Subscriber
	priority int
}

// Deliver runs the three-step dispatch described by the spec: match, sort
// by priority (stable), filter already-notified, then drive a Chain over
// the result. isPeek selects whether peek-path or main-path subscribers are
// eligible.
func (r *Registry) Deliver(cached *CachedEvent, isPeek bool) DispatchResult {
	candidates := r.match(cached.Event, isPeek)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	filtered := make([]*Subscriber, 0, len(candidates))
	for _, m := range candidates {
		if !cached.hasNotified(m.sub.id) {
			filtered = append(filtered, m.sub)
		}
	}

	resp0 := Response{
		Event:       cached.Event,
		ReqURL:      cached.ReqURL,
		RemoveCache: false,
		AutoRemove:  true,
	}

	chain := newChain(filtered)
	final := chain.Proceed(resp0)

	return DispatchResult{Response: final, Notified: chain.Notified()}
}

// match scans every registered subscriber's WatchSpecs for a match against
// ev, pairing each match with its spec's priority for the subsequent sort.
// Subscribers whose isPeek does not equal the isPeek argument are excluded.
// The pairing is returned by value rather than stashed on the Subscriber,
// since match and sort can run concurrently for the main and peek paths.
func (r *Registry) match(ev Event, isPeek bool) []matchedSub {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []matchedSub
	for _, s := range r.subscribers {
		if s.IsPeek != isPeek {
			continue
		}
		for i := range s.Watches {
			if s.Watches[i].matches(ev) {
				matched = append(matched, matchedSub{sub: s, priority: s.Watches[i].Priority})
				break
			}
		}
	}
	return matched
}
