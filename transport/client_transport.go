// Package transport implements the caller side of a call: one connection,
// one request frame out, one response frame in, then close.
//
//	Dialer.RoundTrip
//	  Idle ──dial──→ Connecting ──→ Connected ──Send──→ AwaitingResponse ──→ Closed
//	                                                  │
//	  recvLoop:  Decoder.Receive(conn) ──→ result chan (buffered, one value)
//
// The response is handed over on a channel owned by the call, never stored on
// the connection. There is no pooling and no reuse: the connection is closed
// as soon as the response is decoded.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"oneshot-rpc/codec"
	"oneshot-rpc/message"
	"oneshot-rpc/protocol"
)

// State is the lifecycle position of a caller-side connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateAwaitingResponse
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Result is the single outcome of a round trip.
type Result struct {
	Response *message.Response
	Err      error
}

// ClientTransport owns one outbound connection for exactly one request.
type ClientTransport struct {
	id    string
	addr  string
	conn  net.Conn
	enc   *protocol.Encoder[message.Request]
	dec   *protocol.Decoder[message.Response]
	state atomic.Int32

	sent      atomic.Bool
	closeOnce sync.Once
	closeErr  error
	onClose   func(*ClientTransport)
}

func newClientTransport(conn net.Conn, addr string, c codec.Codec, limits protocol.Limits) *ClientTransport {
	t := &ClientTransport{
		id:   uuid.NewString(),
		addr: addr,
		conn: conn,
		enc:  protocol.NewEncoder[message.Request](c, limits),
		dec:  protocol.NewDecoder[message.Response](c, limits),
	}
	t.setState(StateConnected)
	return t
}

// ID identifies the connection in logs.
func (t *ClientTransport) ID() string {
	return t.id
}

func (t *ClientTransport) State() State {
	return State(t.state.Load())
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Send writes the request frame and starts waiting for the response. The
// returned channel receives exactly one Result. Send may be called once.
func (t *ClientTransport) Send(req *message.Request) (<-chan Result, error) {
	if !t.sent.CompareAndSwap(false, true) {
		return nil, errors.New("transport: request already sent on this connection")
	}

	if err := t.enc.Encode(t.conn, req); err != nil {
		var serr *codec.SerializationError
		if errors.As(err, &serr) || errors.Is(err, protocol.ErrFrameTooLarge) {
			return nil, err
		}
		return nil, &ConnectionError{Op: "write", Addr: t.addr, Err: err}
	}
	log.Debug().Str("module", "transport").Str("conn", t.id).Stringer("request", req).Msg("request sent")

	// Buffered so recvLoop never blocks if the caller gave up waiting.
	ch := make(chan Result, 1)
	t.setState(StateAwaitingResponse)
	go t.recvLoop(ch)
	return ch, nil
}

// recvLoop reads exactly one response frame and reports it on ch.
func (t *ClientTransport) recvLoop(ch chan<- Result) {
	resp, err := t.dec.Receive(t.conn)
	if err != nil {
		ch <- Result{Err: t.classify(err)}
		return
	}
	log.Debug().Str("module", "transport").Str("conn", t.id).Stringer("response", resp).Msg("response received")
	ch <- Result{Response: &resp}
}

func (t *ClientTransport) classify(err error) error {
	var serr *codec.SerializationError
	switch {
	case errors.As(err, &serr), errors.Is(err, protocol.ErrFrameTooLarge):
		return err
	case errors.Is(err, io.EOF):
		return ErrNoResponse
	default:
		return &ConnectionError{Op: "read", Addr: t.addr, Err: err}
	}
}

// Close closes the connection. It is safe to call more than once.
func (t *ClientTransport) Close() error {
	t.closeOnce.Do(func() {
		t.setState(StateClosed)
		t.closeErr = t.conn.Close()
		if t.onClose != nil {
			t.onClose(t)
		}
	})
	return t.closeErr
}

func (t *ClientTransport) setState(s State) {
	t.state.Store(int32(s))
	log.Trace().Str("module", "transport").Str("conn", t.id).Stringer("state", s).Msg("state change")
}
