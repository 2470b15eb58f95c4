package sseengine

// AutoClearStrategy controls when the registry removes a subscriber on its
// own, independent of an explicit Registry.Remove call.
type AutoClearStrategy int

const (
	// AutoClearRound is deprecated: it survives Registry.Reset but is
	// cleared by Registry.Destroy. Preserved for compatibility; do not
	// build new behavior on it.
	AutoClearRound AutoClearStrategy = iota
	// AutoClearStream removes the subscriber when the current stream
	// completes (Registry.RemoveStreamScoped, invoked by the internal
	// AutoRemoveInterceptor).
	AutoClearStream
)

// WatchSpec describes one subscriber interest: an exact event-type match
// plus an optional exact content match and a dispatch priority.
type WatchSpec struct {
	// EventType is matched exactly against Event.ElementType.
	EventType string

	// MatchContent, when non-empty, is matched exactly against Event.Result.
	// An empty MatchContent matches any Result.
	MatchContent string

	// Priority orders dispatch: higher runs earlier. Ties keep insertion
	// order (stable sort).
	Priority int
}

// matches reports whether spec matches ev.
func (w WatchSpec) matches(ev Event) bool {
	if w.EventType != ev.ElementType {
		return false
	}
	if w.MatchContent != "" && w.MatchContent != ev.Result {
		return false
	}
	return true
}

// Response is emitted from each handler in a Chain and propagated back to
// the CacheDeliverer's pop callback.
type Response struct {
	// RemoveCache, when true, is the standard "consume" signal: the caller
	// (Engine's pop callback) marks the cached entry dirty and may trigger
	// the timestamp-watermark auto-removal sweep.
	RemoveCache bool

	// AutoRemove is only meaningful when RemoveCache=false; it controls
	// whether the entry is eligible for the timestamp-watermark sweep
	// triggered by a later consumed removal.
	AutoRemove bool

	// ReqURL carries the originating request path through the chain.
	ReqURL string

	// Event is the event being carried through the chain. Handlers may
	// read it but conventionally do not mutate its identity.
	Event Event
}

// HandlerFunc is a subscriber's callback. It receives the chain (to
// optionally continue dispatch) and the current response, and returns the
// response to propagate.
type HandlerFunc func(chain *Chain, resp Response) Response

// Lifecycle hooks a Subscriber may optionally implement.
type (
	// OnCreateFunc fires once when the subscriber is added to a Registry.
	OnCreateFunc func(name string)
	// OnMatchFunc fires every time the subscriber's callback is about to be
	// invoked for a matched event.
	OnMatchFunc func(name, elementType string)
	// OnDestroyFunc fires exactly once when the subscriber is removed.
	OnDestroyFunc func(name string)
)

// Subscriber is a named handler registered with an InterceptorRegistry.
type Subscriber struct {
	// Name uniquely identifies the subscriber for isOnly dedup and logging.
	// Must be non-empty.
	Name string

	// Watches is the set of interests this subscriber holds. A subscriber
	// may match an event through any one of them.
	Watches []WatchSpec

	// Callback is invoked when a WatchSpec matches and the subscriber has
	// not already been notified for the cached entry.
	Callback HandlerFunc

	// AutoClearStrategy controls unprompted removal (see above).
	AutoClearStrategy AutoClearStrategy

	// GoThrough, when true, keeps the subscriber reachable in go-through
	// mode even after an earlier handler terminated the chain by not
	// calling Chain.Proceed.
	GoThrough bool

	// IsPeek, when true, receives dispatch from the peek path instead of
	// the main cache path.
	IsPeek bool

	OnCreate  OnCreateFunc
	OnMatch   OnMatchFunc
	OnDestroy OnDestroyFunc

	// id is the opaque identity used for notified-set membership, assigned
	// by the Registry on Add. isOnly dedup compares Name, not id.
	id subscriberID

	// destroyed is set once OnDestroy has fired, making Remove idempotent.
	destroyed bool
}

// fireOnCreate invokes OnCreate if set.
func (s *Subscriber) fireOnCreate() {
	if s.OnCreate != nil {
		s.OnCreate(s.Name)
	}
}

// fireOnMatch invokes OnMatch if set.
func (s *Subscriber) fireOnMatch(elementType string) {
	if s.OnMatch != nil {
		s.OnMatch(s.Name, elementType)
	}
}

// fireOnDestroyOnce invokes OnDestroy exactly once across the subscriber's
// lifetime, regardless of how many times it is called.
func (s *Subscriber) fireOnDestroyOnce() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.OnDestroy != nil {
		s.OnDestroy(s.Name)
	}
}
