package sseengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// autoRemoveInterceptorName is the reserved Subscriber.Name of the internal
// interceptor that prunes stream-scoped subscribers on stream completion.
const autoRemoveInterceptorName = "sseengine.auto-remove"

// autoRemovePriority is deliberately far above any application-registered
// WatchSpec priority so the internal cleanup always runs first.
const autoRemovePriority = 1 << 30

// primaryStreamID names the single primary stream's bridge registration and
// reqUrl bookkeeping, distinguishing it from named agent streams.
const primaryStreamID = "primary"

// Engine wires StreamAdapter, FilterService, CacheDeliverer,
// InterceptorRegistry, and ConnectManager into the orchestrator described by
// the spec: it installs itself as a request/response/error interceptor on a
// caller-supplied *http.Client, drives admission from the wire into the
// cache pool, and dispatches paced pops into the registry.
type Engine struct {
	cfg    *Config
	logger *zap.SugaredLogger

	filter   *FilterService
	cache    *CacheDeliverer
	registry *Registry
	connect  *ConnectManager
	bridge   BridgeRouter

	newAdapter func() StreamAdapter

	httpClient    *http.Client
	baseTransport http.RoundTripper

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu                 sync.Mutex
	initialized        bool
	closed             bool
	streamTransforming bool
	lastActiveAt       time.Time
	activeReqURL       string
	fastDeliverActive  bool
	savedInterval      time.Duration

	agentsMu sync.Mutex
	agents   map[string]*AgentStream
}

// NewEngine constructs an Engine from cfg. bridge may be nil, in which case
// an in-process BridgeRouter is used (see bridge.go).
func NewEngine(cfg *Config, bridge BridgeRouter) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if bridge == nil {
		bridge = NewInProcessBridge()
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	adapterFactory := func() StreamAdapter { return NewDefaultStreamAdapter() }
	if cfg.StreamAdapter != nil {
		// A caller-supplied single instance is reused directly; per the
		// spec, a replacement adapter only needs to preserve the framing
		// contract, and most custom adapters are stateless enough to share.
		adapterFactory = func() StreamAdapter { return cfg.StreamAdapter }
	}

	e := &Engine{
		cfg:          cfg,
		logger:       logger,
		filter:       NewFilterService(cfg.SSEFilter),
		cache:        NewCacheDeliverer(logger, cfg.Interval(), cfg.PacedTypeSet()),
		registry:     NewRegistry(),
		connect:      NewConnectManager(),
		bridge:       bridge,
		newAdapter:   adapterFactory,
		ctx:          gctx,
		cancel:       cancel,
		lastActiveAt: time.Now(),
		agents:       make(map[string]*AgentStream),
	}
	e.group = group
	return e
}

// Init installs the engine onto httpClient as a request/response/error
// interceptor, registers the internal auto-remove interceptor, and starts
// idle supervision. Init is idempotent: calling it twice on the same Engine
// simply no-ops the second time.
func (e *Engine) Init(httpClient *http.Client) error {
	if httpClient == nil {
		return errors.New("sseengine: Init: httpClient must not be nil")
	}
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.initialized = true
	e.mu.Unlock()

	e.install(httpClient)
	e.registerAutoRemoveInterceptor()
	e.cache.SetIdleObserver(e.onIdleTick)
	e.logger.Debugw("engine initialized")
	return nil
}

// registerAutoRemoveInterceptor installs the internal AutoRemoveInterceptor
// per spec §4.6: a peek-path subscriber matching the reserved auto-remove
// element type, highest priority, that consumes the event and prunes every
// stream-scoped subscriber.
func (e *Engine) registerAutoRemoveInterceptor() {
	sub := &Subscriber{
		Name: autoRemoveInterceptorName,
		Watches: []WatchSpec{
			{EventType: EventTypeAutoRemove, Priority: autoRemovePriority},
		},
		IsPeek:            true,
		AutoClearStrategy: AutoClearRound,
		Callback: func(chain *Chain, resp Response) Response {
			e.registry.RemoveStreamScoped()
			resp.RemoveCache = true
			return resp
		},
	}
	e.registry.Add(sub, true)
}

// Subscribe registers s with the interceptor registry. It returns
// ErrEngineClosed without mutating the registry if called after Close. When
// isOnly is true and a subscriber named s.Name is already registered,
// Subscribe returns false with ErrDuplicateSubscriber instead.
func (e *Engine) Subscribe(s *Subscriber, isOnly bool) (bool, error) {
	if e.isClosed() {
		return false, fmt.Errorf("Subscribe: %q: %w", s.Name, ErrEngineClosed)
	}
	if ok := e.registry.Add(s, isOnly); !ok {
		return false, fmt.Errorf("%s %q: %w", "Subscribe:", s.Name, ErrDuplicateSubscriber)
	}
	return true, nil
}

// isClosed reports whether Close has already run.
func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Unsubscribe removes s from the registry, firing its OnDestroy hook once.
func (e *Engine) Unsubscribe(s *Subscriber) {
	e.registry.Remove(s)
}

// ReplayPeek re-invokes the peek-path dispatch over the current peek cache
// contents, for subscribers that registered after events already arrived
// (the race the peek cache exists to cover, per the glossary).
func (e *Engine) ReplayPeek() {
	e.cache.FlushPeek(e.peekPopCallback)
}

// onRequest is the request-interceptor hook (spec §4.6 step 2).
func (e *Engine) onRequest(req *http.Request) error {
	if !isSSERequest(req) {
		return nil
	}

	e.mu.Lock()
	if e.streamTransforming {
		e.mu.Unlock()
		return ErrStreamTransforming
	}
	e.streamTransforming = true
	e.mu.Unlock()

	e.connect.Transition(DisconnectNormal, false)
	e.logger.Debugw("sse request opened", "path", req.URL.Path)
	return nil
}

// onResponse is the response-interceptor hook (spec §4.6 step 3). It resets
// the CacheDeliverer, synthesizes the stream-open marker, and spawns the
// reader goroutine that feeds the rest of the body through the pipeline.
func (e *Engine) onResponse(req *http.Request, resp *http.Response) {
	if !isSSERequest(req) {
		return
	}

	e.cache.Reset()
	e.touchActive()

	reqURL := req.URL.Path
	e.mu.Lock()
	e.activeReqURL = reqURL
	e.mu.Unlock()
	openEvent := Event{
		SessionLogID: SessionLogIDStreamOpen,
		ElementType:  EventTypeStreamOpen,
	}
	e.admit(e.filter.Apply(openEvent), reqURL, true)

	adapter := e.newAdapter()
	body := resp.Body
	e.group.Go(func() error {
		e.runReader(req.Context(), primaryStreamID, reqURL, adapter, body)
		return nil
	})
}

// onError is the error-interceptor hook (spec §4.6 step 4).
func (e *Engine) onError(req *http.Request, err error) {
	if errors.Is(err, ErrStreamTransforming) {
		return
	}
	e.connect.Transition(DisconnectError, false)
	if isSSERequest(req) {
		e.mu.Lock()
		e.streamTransforming = false
		e.mu.Unlock()
	}
	e.logger.Debugw("request error", "path", req.URL.Path, "error", err)
}

// runReader is the bridge's consumer side: it registers streamID, spawns
// pumpBridge to drain body and drive Dispatch, then feeds every
// BridgeStreamData update through adapter and admission until a
// BridgeStreamEnd/BridgeStreamError update arrives or a context is
// cancelled, at which point it runs the stream-done (or stream-error)
// sequence. When the engine's context is cancelled it also closes body, so
// pumpBridge's pending read returns and Close can wait for it.
func (e *Engine) runReader(ctx context.Context, streamID, reqURL string, adapter StreamAdapter, body io.ReadCloser) {
	updates := e.bridge.Register(streamID)
	e.group.Go(func() error {
		e.pumpBridge(streamID, body)
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			e.onStreamDone(streamID, reqURL)
			return
		case <-e.ctx.Done():
			body.Close()
			e.onStreamDone(streamID, reqURL)
			return
		case update := <-updates:
			switch update.State {
			case BridgeStreamData:
				events := adapter.Feed(string(update.Data))
				for _, ev := range events {
					e.admit(e.filter.Apply(ev), reqURL, true)
				}
			case BridgeStreamEnd:
				e.onStreamDone(streamID, reqURL)
				return
			case BridgeStreamError:
				e.onStreamError(streamID, reqURL, fmt.Errorf("%s", update.Data))
				return
			}
		}
	}
}

// admit drops illegal events and puts the remainder into the main cache
// (with the engine's pop callback) and, when withPeek is true, the peek
// cache as well.
func (e *Engine) admit(events []Event, reqURL string, withPeek bool) {
	legal := events[:0]
	for _, ev := range events {
		if ev.IsLegal() {
			legal = append(legal, ev)
		}
	}
	if len(legal) == 0 {
		return
	}
	e.cache.Put(legal, reqURL, e.popCallback)
	if withPeek {
		e.cache.PutPeek(legal, reqURL)
	}
}

// popCallback is handed to CacheDeliverer.Put/Flush: it dispatches through
// the registry, updates connection state on a consumed removal, and
// triggers the timestamp-watermark auto-remove sweep.
func (e *Engine) popCallback(entry *CachedEvent) PopResult {
	result := e.registry.Deliver(entry, false)

	notified := make([]subscriberID, 0, len(result.Notified))
	for _, s := range result.Notified {
		notified = append(notified, s.id)
	}

	if result.Response.RemoveCache {
		e.touchActive()
		e.connect.Transition(ConnectActive, false)
		e.cache.SweepAutoRemove(entry.AdmittedAt)
	}

	return PopResult{
		IsConsumed: result.Response.RemoveCache,
		AutoRemove: result.Response.AutoRemove,
		Notified:   notified,
	}
}

// peekPopCallback drives peek-path dispatch; it ignores the removal signal
// since the peek cache is never paced or drained by consumption.
func (e *Engine) peekPopCallback(entry *CachedEvent) {
	e.registry.Deliver(entry, true)
}

// touchActive records the current time as the most recent activity
// timestamp, the watermark onIdleTick measures against.
func (e *Engine) touchActive() {
	e.mu.Lock()
	e.lastActiveAt = time.Now()
	e.mu.Unlock()
}

// onIdleTick is the CacheDeliverer idle observer: it fires when one tick
// passes with no change in main-cache length. Suppressed while the cache is
// paused, and suppressed entirely for request paths configured in
// cfg.UnCheckConnectStatePaths (spec §6).
func (e *Engine) onIdleTick() {
	if !e.cache.IsActive() {
		return
	}
	e.mu.Lock()
	idleFor := time.Since(e.lastActiveAt)
	reqURL := e.activeReqURL
	e.mu.Unlock()

	if e.cfg.SkipIdleCheck(reqURL) {
		return
	}

	switch {
	case idleFor > e.cfg.ExceptionTimeout():
		e.connect.Transition(ConnectException, false)
	case idleFor > e.cfg.IdleTimeout():
		e.connect.Transition(ConnectIdle, false)
	}
}

// onStreamDone runs the completion sequence shared by normal end-of-stream
// and (via onStreamError) the error path: synthesize the auto-remove
// marker, flip streamTransforming off, drop the connection state, flush the
// peek cache, reset the transitory filter, and tell the bridge to stop.
func (e *Engine) onStreamDone(streamID, reqURL string) {
	e.finishStream(streamID, reqURL, ConnectSuspend)
}

// onStreamError is onStreamDone's counterpart for a transport failure: same
// cleanup, but the connection transitions to DisconnectError instead of
// ConnectSuspend (spec §7, error kind 3).
func (e *Engine) onStreamError(streamID, reqURL string, err error) {
	wrapped := fmt.Errorf("%w: %w", ErrTransport, err)
	e.logger.Debugw("stream error", "streamId", streamID, "error", wrapped)
	e.finishStream(streamID, reqURL, DisconnectError)
}

func (e *Engine) finishStream(streamID, reqURL string, endState ConnectionState) {
	marker := Event{
		SessionLogID: SessionLogIDAutoRemove,
		ElementType:  EventTypeAutoRemove,
	}
	e.cache.PutPeek(e.filter.Apply(marker), reqURL)

	e.mu.Lock()
	e.streamTransforming = false
	e.mu.Unlock()

	e.connect.Transition(endState, false)
	e.cache.FlushPeek(e.peekPopCallback)
	e.filter.Reset()
	e.bridge.Unregister(streamID)
}

// EnableFastDeliver saves the current pacing interval and sets it to 10ms,
// used to drain a backlog quickly after a "show full message" request.
func (e *Engine) EnableFastDeliver() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fastDeliverActive {
		return
	}
	e.fastDeliverActive = true
	e.savedInterval = e.cache.SetInterval(10 * time.Millisecond)
}

// DisableFastDeliver restores the interval EnableFastDeliver saved.
func (e *Engine) DisableFastDeliver() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fastDeliverActive {
		return
	}
	e.cache.SetInterval(e.savedInterval)
	e.fastDeliverActive = false
}

// Close shuts the engine down: clears both caches, stops the idle timer,
// destroys the registry,
// restores the HTTP client's original transport, cancels outstanding reader
// goroutines, and waits for orderly shutdown.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cache.ClearCache()
	e.cache.stopIdleTimer()
	e.registry.Destroy()
	e.uninstall()
	e.cancel()
	_ = e.group.Wait()
	e.cache.Wait()
	return nil
}
