package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"oneshot-rpc/codec"
	"oneshot-rpc/message"
	"oneshot-rpc/protocol"
)

// DefaultConnectTimeout bounds how long a dial may take.
const DefaultConnectTimeout = 5 * time.Second

// Config configures a Dialer.
type Config struct {
	ConnectTimeout time.Duration // zero means DefaultConnectTimeout
	// ResponseTimeout bounds the wait for the response frame once the request
	// is written. Zero waits until the listener closes the connection.
	ResponseTimeout time.Duration
	Codec           codec.CodecType
	Limits          protocol.Limits
}

// Dialer opens caller-side connections. It is constructed explicitly, shared by
// any number of concurrent calls, and shut down with Close.
type Dialer struct {
	cfg    Config
	codec  codec.Codec
	dialer net.Dialer

	mu     sync.Mutex
	active map[*ClientTransport]struct{}
	closed bool
}

func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	c, err := codec.GetCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &Dialer{
		cfg:    cfg,
		codec:  c,
		dialer: net.Dialer{Timeout: cfg.ConnectTimeout},
		active: make(map[*ClientTransport]struct{}),
	}, nil
}

// Dial opens a fresh connection to addr.
func (d *Dialer) Dial(ctx context.Context, addr string) (*ClientTransport, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: ErrDialerClosed}
	}

	log.Trace().Str("module", "transport").Str("addr", addr).Stringer("state", StateConnecting).Msg("state change")
	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}

	t := newClientTransport(conn, addr, d.codec, d.cfg.Limits)
	t.onClose = d.forget

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		t.Close()
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: ErrDialerClosed}
	}
	d.active[t] = struct{}{}
	d.mu.Unlock()

	log.Debug().Str("module", "transport").Str("conn", t.ID()).Str("addr", addr).Msg("connected")
	return t, nil
}

// RoundTrip performs one complete call on a new connection: dial, send req,
// wait for exactly one response, close.
//
// Errors: *ConnectionError for dial/write/read failures, ErrNoResponse when the
// listener closes without answering, *codec.SerializationError when either
// frame cannot be (de)serialized, and ctx.Err() when ctx ends first.
func (d *Dialer) RoundTrip(ctx context.Context, addr string, req *message.Request) (*message.Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	t, err := d.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	if d.cfg.ResponseTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(d.cfg.ResponseTimeout)); err != nil {
			return nil, &ConnectionError{Op: "read", Addr: addr, Err: err}
		}
	}

	ch, err := t.Send(req)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.Response, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the dialer down. Connections still waiting for a response are
// closed, and their calls fail with a ConnectionError.
func (d *Dialer) Close() error {
	d.mu.Lock()
	d.closed = true
	active := make([]*ClientTransport, 0, len(d.active))
	for t := range d.active {
		active = append(active, t)
	}
	d.mu.Unlock()

	for _, t := range active {
		t.Close()
	}
	return nil
}

// Active reports the number of open connections.
func (d *Dialer) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dialer) forget(t *ClientTransport) {
	d.mu.Lock()
	delete(d.active, t)
	d.mu.Unlock()
}
