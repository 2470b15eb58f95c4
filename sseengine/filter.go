package sseengine

import "sync"

// FilterFunc expands a single Event into zero or more Events. It is always
// invoked synchronously by the caller relative to the event's place in the
// stream; the "asynchronous" part of the spec's one-to-many expansion is
// the engine awaiting this call per event, not concurrent fan-out.
type FilterFunc func(ev Event) []Event

// FilterService holds a permanent filter (set at construction) and a
// transitory filter (set per in-flight request). Resolution of an event
// prefers the transitory filter, falling back to the permanent filter, and
// finally to an identity expansion ({ev}).
type FilterService struct {
	mu         sync.RWMutex
	permanent  FilterFunc
	transitory FilterFunc
}

// NewFilterService constructs a service with the given permanent filter,
// which may be nil.
func NewFilterService(permanent FilterFunc) *FilterService {
	return &FilterService{permanent: permanent}
}

// SetTransitory installs a per-request filter, overriding the permanent
// filter until Reset or Destroy is called.
func (f *FilterService) SetTransitory(fn FilterFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitory = fn
}

// Reset clears only the transitory slot.
func (f *FilterService) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitory = nil
}

// Destroy clears both slots.
func (f *FilterService) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitory = nil
	f.permanent = nil
}

// Apply resolves and runs the appropriate filter for ev.
func (f *FilterService) Apply(ev Event) []Event {
	f.mu.RLock()
	fn := f.transitory
	if fn == nil {
		fn = f.permanent
	}
	f.mu.RUnlock()

	if fn == nil {
		return []Event{ev}
	}
	return fn(ev)
}
