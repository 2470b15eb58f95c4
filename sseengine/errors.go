package sseengine

import "errors"

// ErrStreamTransforming is the stable marker returned (wrapped) when a
// caller tries to open a new SSE-identified request while a primary stream
// is already in progress. The Engine distinguishes it from real transport
// errors with errors.Is so that it is never mistaken for a connection
// failure.
var ErrStreamTransforming = errors.New("sseengine: a primary stream is already transforming")

// ErrTransport wraps an underlying transport failure (reader error or a
// native-bridge isError=true bundle). It always wraps a cause via %w.
var ErrTransport = errors.New("sseengine: transport error")

// ErrEngineClosed is returned by operations attempted after Engine.Close.
var ErrEngineClosed = errors.New("sseengine: engine is closed")

// ErrDuplicateSubscriber is returned (wrapped) by Engine.Subscribe when
// isOnly=true and a subscriber with the same name is already registered
// (Registry.Add itself reports this case by returning false).
var ErrDuplicateSubscriber = errors.New("sseengine: subscriber name already registered")
