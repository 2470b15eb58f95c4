package sseengine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

// sseAcceptHeader is the Accept header value the engine treats as an SSE
// request, matching the teacher's header-driven request classification
// (compare client.go's Content-Type/Accept handling in applyHeaders).
const sseAcceptHeader = "text/event-stream"

// isSSERequest reports whether req advertises itself as an SSE stream via
// the Accept header, per spec §6 ("SSE requests are identified by the
// header Accept: text/event-stream").
func isSSERequest(req *http.Request) bool {
	return req.Header.Get("Accept") == sseAcceptHeader
}

// OfflineProvider supplies a canned response body for an SSE request that
// should be short-circuited without touching the network, per spec §4.6
// ("Offline requests are short-circuited with a synthetic 200 response
// whose body is replaced by an offline provider later").
type OfflineProvider interface {
	// Open returns the reader that stands in for the network body. The
	// Engine closes it once the synthetic stream is drained.
	Open(ctx context.Context, req *http.Request) (io.ReadCloser, error)
}

type offlineProviderKey struct{}

// WithOfflineProvider attaches p to ctx so a request built from it is
// short-circuited by the Engine's request hook instead of reaching the
// real transport.
func WithOfflineProvider(ctx context.Context, p OfflineProvider) context.Context {
	return context.WithValue(ctx, offlineProviderKey{}, p)
}

// offlineProviderFrom extracts an OfflineProvider previously attached with
// WithOfflineProvider, if any.
func offlineProviderFrom(ctx context.Context) (OfflineProvider, bool) {
	p, ok := ctx.Value(offlineProviderKey{}).(OfflineProvider)
	return p, ok
}

// engineTransport is the RoundTripper the Engine installs onto the caller's
// *http.Client, per spec §4.6 ("installs itself as an HTTP request/response/
// error interceptor on httpClient"). Go models an installed interceptor as a
// wrapping http.RoundTripper rather than a mutable hook list, which is the
// idiomatic way to observe/modify requests and responses flowing through a
// *http.Client.
type engineTransport struct {
	engine *Engine
	next   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *engineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.engine.onRequest(req); err != nil {
		t.engine.onError(req, err)
		return nil, err
	}

	if provider, ok := offlineProviderFrom(req.Context()); ok && isSSERequest(req) {
		body, err := provider.Open(req.Context(), req)
		if err != nil {
			t.engine.onError(req, err)
			return nil, err
		}
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Status:     http.StatusText(http.StatusOK),
			Proto:      "HTTP/1.1",
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     make(http.Header),
			Body:       body,
			Request:    req,
		}
		t.engine.onResponse(req, resp)
		return resp, nil
	}

	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	if err != nil {
		t.engine.onError(req, err)
		return nil, err
	}
	t.engine.onResponse(req, resp)
	return resp, nil
}

// install wraps httpClient's current Transport with an engineTransport, the
// way Engine.Init attaches itself as a request/response/error interceptor.
func (e *Engine) install(httpClient *http.Client) {
	existing := httpClient.Transport
	httpClient.Transport = &engineTransport{engine: e, next: existing}
	e.httpClient = httpClient
	e.baseTransport = existing
}

// uninstall restores httpClient's original Transport, undoing install. It is
// a no-op if the client's Transport is no longer an engineTransport
// belonging to e (for example if another interceptor wrapped it afterwards).
func (e *Engine) uninstall() {
	if e.httpClient == nil {
		return
	}
	if wrapper, ok := e.httpClient.Transport.(*engineTransport); ok && wrapper.engine == e {
		e.httpClient.Transport = e.baseTransport
	}
}

// lineReader adapts an io.Reader (an HTTP response body, or an
// OfflineProvider's body) into the chunked Feed calls a StreamAdapter
// expects, reading whatever is immediately available one buffered read at a
// time rather than waiting for a full line — SSE bodies are not guaranteed
// to be newline-terminated at the transport level.
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 4096)}
}

// next blocks for at least one byte and returns everything immediately
// available in the underlying buffered reader, or io.EOF/err once the body
// is exhausted or fails.
func (l *lineReader) next() (string, error) {
	first, err := l.r.ReadByte()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteByte(first)
	for l.r.Buffered() > 0 {
		b, err := l.r.ReadByte()
		if err != nil {
			break
		}
		buf.WriteByte(b)
	}
	return buf.String(), nil
}

// pumpBridge owns body for its lifetime: it drains body through a lineReader
// and forwards each chunk to e.bridge as a BridgeStreamData update for
// streamID, translating the terminal read outcome into the bridge's in-band
// completion signal (BridgeStreamEnd on io.EOF, BridgeStreamError
// otherwise). This is the production producer side of the bridge contract;
// Engine.runReader is the consumer.
func (e *Engine) pumpBridge(streamID string, body io.ReadCloser) {
	defer body.Close()
	lr := newLineReader(body)

	for {
		chunk, err := lr.next()
		if chunk != "" {
			e.bridge.Dispatch(BridgeUpdate{StreamID: streamID, Data: []byte(chunk), State: BridgeStreamData})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.bridge.Dispatch(BridgeUpdate{StreamID: streamID, State: BridgeStreamEnd})
			} else {
				e.bridge.Dispatch(BridgeUpdate{StreamID: streamID, Data: []byte(err.Error()), State: BridgeStreamError})
			}
			return
		}
	}
}
