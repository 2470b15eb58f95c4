package sseengine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PopResult is the value a PopFunc returns for a single popped CachedEvent:
// whether it was consumed, its (possibly updated) auto-remove policy, and
// the subscribers that were notified while handling it.
type PopResult struct {
	IsConsumed bool
	AutoRemove bool
	Notified   []subscriberID
}

// PopFunc is invoked once per entry during a pacing pass. It is the
// caller-supplied bridge from the cache to dispatch (normally
// Registry.Deliver wrapped by the Engine).
type PopFunc func(entry *CachedEvent) PopResult

// PeekPopFunc is invoked once per peek-cache entry during FlushPeek.
type PeekPopFunc func(entry *CachedEvent)

// CacheState is the target of CacheDeliverer.SetState.
type CacheState int

const (
	StateActive CacheState = iota
	StatePause
)

// CacheDeliverer holds the main and peek caches and drives the paced
// extraction loop described in the spec. It is safe for concurrent use.
type CacheDeliverer struct {
	logger     *zap.SugaredLogger
	intervalNS atomic.Int64
	pacedTypes map[string]struct{}

	nowFunc func() time.Time

	mainMu    sync.Mutex
	mainCache []*CachedEvent

	peekMu    sync.Mutex
	peekCache []*CachedEvent

	loopMu      sync.Mutex
	loopRunning bool
	currentPop  PopFunc
	breakFlag   bool

	pauseMu    sync.Mutex
	pauseCond  *sync.Cond
	pauseCount int

	canRunMu sync.Mutex
	canRun   bool

	idleMu       sync.Mutex
	idleObserver func()
	idleCancel   context.CancelFunc
	idleLength   int

	wg sync.WaitGroup
}

// NewCacheDeliverer constructs a CacheDeliverer. interval is the pacing /
// idle-tick interval (sseBufferExtractInterval); pacedTypes is the set of
// element types eligible for the interval delay (eleTypesInInterval).
func NewCacheDeliverer(logger *zap.SugaredLogger, interval time.Duration, pacedTypes map[string]struct{}) *CacheDeliverer {
	if pacedTypes == nil {
		pacedTypes = map[string]struct{}{}
	}
	c := &CacheDeliverer{
		logger:     logger,
		pacedTypes: pacedTypes,
		nowFunc:    time.Now,
		canRun:     true,
	}
	c.intervalNS.Store(int64(interval))
	c.pauseCond = sync.NewCond(&c.pauseMu)
	return c
}

// interval returns the current pacing/idle-tick interval.
func (c *CacheDeliverer) interval() time.Duration {
	return time.Duration(c.intervalNS.Load())
}

// SetInterval atomically updates the pacing/idle-tick interval and returns
// the previous value, so callers (the engine's fast-deliver toggle) can
// restore it later.
func (c *CacheDeliverer) SetInterval(d time.Duration) time.Duration {
	prev := c.intervalNS.Swap(int64(d))
	return time.Duration(prev)
}

func (c *CacheDeliverer) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}

func (c *CacheDeliverer) mayRun() bool {
	c.canRunMu.Lock()
	defer c.canRunMu.Unlock()
	return c.canRun
}

// Put appends wrapped entries for events to the main cache (skipping
// illegal events — callers are expected to have already filtered those,
// but Put re-checks defensively) under reqURL, then ensures the pacing
// loop is running against pop.
func (c *CacheDeliverer) Put(events []Event, reqURL string, pop PopFunc) {
	if !c.mayRun() {
		return
	}
	c.admitMain(events, reqURL)
	c.enterPacingLoop(pop, false)
}

// PutPeek appends wrapped entries for events to the peek cache. The peek
// cache is never paced and never auto-drained; entries are removed only by
// ClearCache/Reset.
func (c *CacheDeliverer) PutPeek(events []Event, reqURL string) {
	if !c.mayRun() {
		return
	}
	admitted := c.now()
	c.peekMu.Lock()
	for _, ev := range events {
		if !ev.IsLegal() {
			continue
		}
		c.peekCache = append(c.peekCache, newCachedEvent(ev, reqURL, admitted))
	}
	c.peekMu.Unlock()
}

func (c *CacheDeliverer) admitMain(events []Event, reqURL string) {
	admitted := c.now()
	c.mainMu.Lock()
	for _, ev := range events {
		if !ev.IsLegal() {
			continue
		}
		c.mainCache = append(c.mainCache, newCachedEvent(ev, reqURL, admitted))
	}
	c.mainMu.Unlock()
}

// Flush re-enters the pacing loop over the cache's current content using
// pop. If breakRunning is true and a pass is already in flight, that pass
// is signaled to break so this flush's own iteration runs next.
func (c *CacheDeliverer) Flush(pop PopFunc, breakRunning bool) {
	if !c.mayRun() {
		return
	}
	c.enterPacingLoop(pop, breakRunning)
}

// FlushPeek synchronously invokes pop on every peek-cache entry, in order,
// with no pacing and no removal.
func (c *CacheDeliverer) FlushPeek(pop PeekPopFunc) {
	for _, e := range c.snapshotPeek() {
		pop(e)
	}
}

// Replace breaks the current pacing pass, removes every main-cache entry
// matching pred, and inserts a new wrapped entry for newEvent at the head.
func (c *CacheDeliverer) Replace(pred func(Event) bool, newEvent Event, reqURL string) {
	if !c.mayRun() {
		return
	}
	c.setBreak()

	c.mainMu.Lock()
	kept := c.mainCache[:0]
	for _, e := range c.mainCache {
		if !pred(e.Event) {
			kept = append(kept, e)
		}
	}
	entry := newCachedEvent(newEvent, reqURL, c.now())
	merged := make([]*CachedEvent, 0, len(kept)+1)
	merged = append(merged, entry)
	merged = append(merged, kept...)
	c.mainCache = merged
	c.mainMu.Unlock()
}

// ClearCache breaks the loop, disables further locked work, and empties
// both caches. Call Reset to re-enable the deliverer afterwards.
func (c *CacheDeliverer) ClearCache() {
	c.setBreak()
	c.canRunMu.Lock()
	c.canRun = false
	c.canRunMu.Unlock()
	c.pauseMu.Lock()
	c.pauseCond.Broadcast()
	c.pauseMu.Unlock()

	c.mainMu.Lock()
	c.mainCache = nil
	c.mainMu.Unlock()

	c.peekMu.Lock()
	c.peekCache = nil
	c.peekMu.Unlock()
}

// Reset empties both caches and re-enables the deliverer for a new stream.
// Pause state is left untouched.
func (c *CacheDeliverer) Reset() {
	c.setBreak()
	c.mainMu.Lock()
	c.mainCache = nil
	c.mainMu.Unlock()
	c.peekMu.Lock()
	c.peekCache = nil
	c.peekMu.Unlock()
	c.canRunMu.Lock()
	c.canRun = true
	c.canRunMu.Unlock()
}

// SweepAutoRemove evicts every main-cache entry admitted strictly before
// watermark whose AutoRemove flag is true. It implements the
// "auto-removal by timestamp" behavior: triggered by the engine whenever a
// consumed removal carries RemoveCache=true.
func (c *CacheDeliverer) SweepAutoRemove(watermark time.Time) {
	c.mainMu.Lock()
	defer c.mainMu.Unlock()
	kept := c.mainCache[:0]
	for _, e := range c.mainCache {
		if e.AdmittedAt.Before(watermark) && e.AutoRemove {
			continue
		}
		kept = append(kept, e)
	}
	c.mainCache = kept
}

// SetState applies a reference-counted pause/active transition. force
// zeroes the counter and sets the state directly, bypassing the
// increment/decrement. Toggling to pause cancels the idle checker;
// toggling to active restarts it (if an observer is configured).
func (c *CacheDeliverer) SetState(target CacheState, force bool) {
	c.pauseMu.Lock()
	if force {
		if target == StatePause {
			c.pauseCount = 1
		} else {
			c.pauseCount = 0
		}
	} else {
		switch target {
		case StatePause:
			c.pauseCount++
		case StateActive:
			if c.pauseCount > 0 {
				c.pauseCount--
			}
		}
	}
	active := c.pauseCount == 0
	if active {
		c.pauseCond.Broadcast()
	}
	c.pauseMu.Unlock()

	if active {
		c.startIdleTimer()
	} else {
		c.stopIdleTimer()
	}
}

// waitUntilActive blocks pacingLoop while the deliverer is paused, waking
// on resume (SetState toggling to active) or shutdown (ClearCache).
func (c *CacheDeliverer) waitUntilActive() {
	c.pauseMu.Lock()
	for c.pauseCount > 0 && c.mayRun() {
		c.pauseCond.Wait()
	}
	c.pauseMu.Unlock()
}

// IsActive reports whether pauseCount == 0.
func (c *CacheDeliverer) IsActive() bool {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.pauseCount == 0
}

// PauseCount returns the current reference count, for tests/invariant
// checks (pauseCount >= 0 is an invariant maintained by SetState).
func (c *CacheDeliverer) PauseCount() int {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.pauseCount
}

// SetIdleObserver installs fn, invoked whenever one idle tick passes with
// no change in main-cache length while the cache is non-empty. Installing
// an observer (re)starts the idle timer if the deliverer is active.
func (c *CacheDeliverer) SetIdleObserver(fn func()) {
	c.idleMu.Lock()
	c.idleObserver = fn
	c.idleMu.Unlock()
	if c.IsActive() {
		c.startIdleTimer()
	}
}

func (c *CacheDeliverer) mainLen() int {
	c.mainMu.Lock()
	defer c.mainMu.Unlock()
	return len(c.mainCache)
}

func (c *CacheDeliverer) startIdleTimer() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleObserver == nil || c.idleCancel != nil || c.interval() <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.idleCancel = cancel
	c.idleLength = c.mainLen()
	c.wg.Add(1)
	go c.idleLoop(ctx)
}

func (c *CacheDeliverer) stopIdleTimer() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleCancel != nil {
		c.idleCancel()
		c.idleCancel = nil
	}
}

func (c *CacheDeliverer) idleLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			length := c.mainLen()
			c.idleMu.Lock()
			unchanged := length == c.idleLength && length > 0
			c.idleLength = length
			observer := c.idleObserver
			c.idleMu.Unlock()
			if unchanged && observer != nil {
				observer()
			}
		}
	}
}

// isPaced reports whether elementType is configured for interval pacing.
func (c *CacheDeliverer) isPaced(elementType string) bool {
	_, ok := c.pacedTypes[elementType]
	return ok
}

func (c *CacheDeliverer) setBreak() {
	c.loopMu.Lock()
	c.breakFlag = true
	c.loopMu.Unlock()
}

func (c *CacheDeliverer) shouldBreak() bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	return c.breakFlag
}

// enterPacingLoop records pop as the active callback and ensures a pacing
// goroutine is draining the main cache. If forceBreak is set and a pass is
// already in flight, it is signaled to break so the next pass (using the
// pop just recorded) starts immediately.
func (c *CacheDeliverer) enterPacingLoop(pop PopFunc, forceBreak bool) {
	c.loopMu.Lock()
	c.currentPop = pop
	running := c.loopRunning
	if forceBreak && running {
		c.breakFlag = true
	}
	if running {
		c.loopMu.Unlock()
		return
	}
	c.loopRunning = true
	c.loopMu.Unlock()

	c.wg.Add(1)
	go c.pacingLoop()
}

// pacingLoop repeatedly drains the main cache in admission order, pacing
// the extraction for configured element types, until a pass finds the
// cache empty. It is the only place the cache's entries are popped.
func (c *CacheDeliverer) pacingLoop() {
	defer c.wg.Done()
	for {
		if !c.mayRun() {
			c.endLoop()
			return
		}

		c.loopMu.Lock()
		pop := c.currentPop
		c.breakFlag = false
		c.loopMu.Unlock()

		snapshot := c.snapshotMain()
		if len(snapshot) == 0 || pop == nil {
			c.endLoop()
			return
		}

		for _, entry := range snapshot {
			if c.shouldBreak() || !c.mayRun() {
				break
			}
			c.waitUntilActive()
			if c.shouldBreak() || !c.mayRun() {
				break
			}
			rep := pop(entry)
			entry.IsDirty = rep.IsConsumed
			entry.AutoRemove = rep.AutoRemove
			entry.markNotified(rep.Notified...)

			if c.isPaced(entry.Event.ElementType) {
				time.Sleep(c.interval())
				if c.shouldBreak() || !c.mayRun() {
					break
				}
			}
		}

		c.removeDirtyMain()
	}
}

// endLoop marks the loop as no longer running. Called only from within
// pacingLoop's own goroutine.
func (c *CacheDeliverer) endLoop() {
	c.loopMu.Lock()
	c.loopRunning = false
	c.loopMu.Unlock()
}

func (c *CacheDeliverer) snapshotMain() []*CachedEvent {
	c.mainMu.Lock()
	defer c.mainMu.Unlock()
	out := make([]*CachedEvent, len(c.mainCache))
	copy(out, c.mainCache)
	return out
}

func (c *CacheDeliverer) snapshotPeek() []*CachedEvent {
	c.peekMu.Lock()
	defer c.peekMu.Unlock()
	out := make([]*CachedEvent, len(c.peekCache))
	copy(out, c.peekCache)
	return out
}

func (c *CacheDeliverer) removeDirtyMain() {
	c.mainMu.Lock()
	defer c.mainMu.Unlock()
	kept := c.mainCache[:0]
	for _, e := range c.mainCache {
		if !e.IsDirty {
			kept = append(kept, e)
		}
	}
	c.mainCache = kept
}

// MainLen returns the current length of the main cache (for tests/metrics).
func (c *CacheDeliverer) MainLen() int { return c.mainLen() }

// PeekLen returns the current length of the peek cache (for tests/metrics).
func (c *CacheDeliverer) PeekLen() int {
	c.peekMu.Lock()
	defer c.peekMu.Unlock()
	return len(c.peekCache)
}

// Wait blocks until every pacing/idle goroutine owned by this deliverer has
// exited. Used by Engine.Close for orderly shutdown.
func (c *CacheDeliverer) Wait() {
	c.wg.Wait()
}
