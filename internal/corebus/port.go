// Package corebus implements the duplex message port: fire-and-forget
// send/on/off plus correlated request/handle/removeHandler, with exactly
// one handler per method per endpoint. ChannelPort is the in-process
// back-to-back channel pair used when view/worker run as goroutines;
// WebSocketPort (ws_port.go) is the loopback transport used when they run
// as separate OS processes. Both satisfy the Port interface and the same
// four-message wire format, so AppBus and Process Lifecycle never branch on
// which transport is in use.
//
// The connection-entry bookkeeping (correlation by a monotonic message id)
// is grounded on hscontrol/mapper/batcher_lockfree.go's
// connectionEntry.send, and the xsync-backed pending-request map mirrors
// that file's lock-free maps. Sends carry no stale-connection timeout: a
// ChannelPort send whose buffer is full waits until the peer reads or the
// port closes.
package corebus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/b0czek/eden/internal/coreerr"
	"github.com/puzpuzpuz/xsync/v4"
)

// MessageKind is one of the wire message kinds.
type MessageKind string

const (
	KindMessage  MessageKind = "message"
	KindRequest  MessageKind = "request"
	KindResponse MessageKind = "response"
)

// WireMessage is the on-the-wire envelope for all four message kinds.
// ErrorKind carries the coreerr.Kind of a response's Error, when the
// failure originated as a *coreerr.CoreError, so the requesting side can
// reconstruct the taxonomy instead of guessing it from the message text.
type WireMessage struct {
	Type      MessageKind
	Method    string
	Payload   any
	MessageID uint64
	Error     string
	ErrorKind coreerr.Kind
}

// RawTransport is the minimal duplex primitive both ChannelPort and
// WebSocketPort implement: send one WireMessage, receive the next one, and
// close. Port wraps RawTransport with the method-dispatch contract.
type RawTransport interface {
	Send(WireMessage) error
	Recv() (WireMessage, error)
	Close() error
}

// Handler answers a correlated request.
type Handler func(payload any) (any, error)

// Listener answers a fire-and-forget message.
type Listener func(payload any)

// Port is the connection object contract, identical on
// both ends of a connection.
type Port struct {
	transport RawTransport

	nextMsgID atomic.Uint64

	mu        sync.Mutex
	listeners map[string][]Listener
	handlers  map[string]Handler // exactly one per method

	pending *xsync.Map[uint64, chan WireMessage]

	closeOnce sync.Once
	closed    atomic.Bool
	closeCbMu sync.Mutex
	closeCbs  []func()

	recvErr error
}

// NewPort wraps a RawTransport and starts its receive pump.
func NewPort(t RawTransport) *Port {
	p := &Port{
		transport: t,
		listeners: make(map[string][]Listener),
		handlers:  make(map[string]Handler),
		pending:   xsync.NewMap[uint64, chan WireMessage](),
	}
	go p.pump()
	return p
}

func (p *Port) pump() {
	for {
		msg, err := p.transport.Recv()
		if err != nil {
			p.recvErr = err
			p.shutdown()
			return
		}

		switch msg.Type {
		case KindMessage:
			p.dispatchMessage(msg)
		case KindRequest:
			go p.dispatchRequest(msg)
		case KindResponse:
			p.dispatchResponse(msg)
		}
	}
}

func (p *Port) dispatchMessage(msg WireMessage) {
	p.mu.Lock()
	listeners := append([]Listener(nil), p.listeners[msg.Method]...)
	p.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() { recover() }() // isolate per-callback failures
			l(msg.Payload)
		}()
	}
}

func (p *Port) dispatchRequest(msg WireMessage) {
	p.mu.Lock()
	h, ok := p.handlers[msg.Method]
	p.mu.Unlock()

	if !ok {
		noHandler := coreerr.NoHandler(msg.Method)
		_ = p.transport.Send(WireMessage{Type: KindResponse, MessageID: msg.MessageID, Error: noHandler.Error(), ErrorKind: noHandler.Kind})
		return
	}

	result, err := h(msg.Payload)
	if err != nil {
		resp := WireMessage{Type: KindResponse, MessageID: msg.MessageID, Error: err.Error()}
		var ce *coreerr.CoreError
		if errors.As(err, &ce) {
			resp.ErrorKind = ce.Kind
		}
		_ = p.transport.Send(resp)
		return
	}
	_ = p.transport.Send(WireMessage{Type: KindResponse, MessageID: msg.MessageID, Payload: result})
}

func (p *Port) dispatchResponse(msg WireMessage) {
	if ch, ok := p.pending.LoadAndDelete(msg.MessageID); ok {
		ch <- msg
	}
}

// Send delivers a fire-and-forget message to the peer's on(method, ...)
// listeners.
func (p *Port) Send(method string, args any) error {
	if p.closed.Load() {
		return coreerr.ConnectionClosed()
	}
	return p.transport.Send(WireMessage{Type: KindMessage, Method: method, Payload: args})
}

// Request sends a correlated request and waits up to timeout (default
// 30s when timeout <= 0) for the peer's handle(method, ...) to respond.
func (p *Port) Request(ctx context.Context, method string, args any, timeout time.Duration) (any, error) {
	if p.closed.Load() {
		return nil, coreerr.ConnectionClosed()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	id := p.nextMsgID.Add(1)
	ch := make(chan WireMessage, 1)
	p.pending.Store(id, ch)
	defer p.pending.Delete(id)

	if err := p.transport.Send(WireMessage{Type: KindRequest, Method: method, Payload: args, MessageID: id}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			if resp.ErrorKind != "" {
				return nil, coreerr.New(resp.ErrorKind, "%s", resp.Error)
			}
			return nil, errors.New(resp.Error)
		}
		return resp.Payload, nil
	case <-time.After(timeout):
		return nil, coreerr.RequestTimeout(method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// On registers a fire-and-forget listener, appended in registration order.
func (p *Port) On(method string, cb Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners[method] = append(p.listeners[method], cb)
}

// Off removes all listeners for method.
func (p *Port) Off(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.listeners, method)
}

// Once registers a listener that removes itself after firing once.
func (p *Port) Once(method string, cb Listener) {
	var wrapped Listener
	fired := atomic.Bool{}
	wrapped = func(payload any) {
		if fired.CompareAndSwap(false, true) {
			p.removeOneListener(method, &wrapped)
			cb(payload)
		}
	}
	p.mu.Lock()
	p.listeners[method] = append(p.listeners[method], wrapped)
	p.mu.Unlock()
}

func (p *Port) removeOneListener(method string, target *Listener) {
	// Once's self-removal is best-effort cosmetic bookkeeping; the fired
	// flag already guarantees at-most-once delivery even if this race
	// leaves a dead entry until the next Off/Close.
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.listeners[method]
	if len(list) == 0 {
		return
	}
	p.listeners[method] = list[:len(list)-1]
}

// Handle installs exactly one handler per method; re-registration fails.
func (p *Port) Handle(method string, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.handlers[method]; exists {
		return coreerr.HandlerAlreadyRegistered(method)
	}
	p.handlers[method] = h
	return nil
}

// RemoveHandler clears the handler installed for method.
func (p *Port) RemoveHandler(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, method)
}

// OnClose registers a callback fired when either end closes or the host
// reports the peer gone.
func (p *Port) OnClose(cb func()) {
	p.closeCbMu.Lock()
	defer p.closeCbMu.Unlock()
	if p.closed.Load() {
		cb()
		return
	}
	p.closeCbs = append(p.closeCbs, cb)
}

// Close tears down local listeners and asks the port to close.
func (p *Port) Close() error {
	err := p.transport.Close()
	p.shutdown()
	return err
}

// IsConnected reports whether this endpoint has not yet observed closure.
func (p *Port) IsConnected() bool {
	return !p.closed.Load()
}

func (p *Port) shutdown() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		closedErr := coreerr.ConnectionClosed()
		p.pending.Range(func(id uint64, ch chan WireMessage) bool {
			ch <- WireMessage{Type: KindResponse, Error: closedErr.Error(), ErrorKind: closedErr.Kind}
			return true
		})

		p.closeCbMu.Lock()
		cbs := p.closeCbs
		p.closeCbs = nil
		p.closeCbMu.Unlock()

		for _, cb := range cbs {
			cb()
		}
	})
}
