package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"oneshot-rpc/codec"
	"oneshot-rpc/message"
	"oneshot-rpc/metrics"
	"oneshot-rpc/protocol"
	"oneshot-rpc/transport"
)

// Client issues calls to a single listener address. Every Call opens its own
// connection and closes it once the response arrives; failed calls are not
// retried.
type Client struct {
	addr       string
	dialer     *transport.Dialer
	ownsDialer bool
}

// Options configures New.
type Options struct {
	Host            string
	Port            int
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	Codec           codec.CodecType
	MaxFrameBytes   uint64
}

// New builds a client together with its own Dialer; Close releases both.
func New(opts Options) (*Client, error) {
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("client: invalid port %d", opts.Port)
	}
	limits := protocol.DefaultLimits()
	if opts.MaxFrameBytes > 0 {
		limits.MaxPayloadBytes = opts.MaxFrameBytes
	}
	d, err := transport.NewDialer(transport.Config{
		ConnectTimeout:  opts.ConnectTimeout,
		ResponseTimeout: opts.ResponseTimeout,
		Codec:           opts.Codec,
		Limits:          limits,
	})
	if err != nil {
		return nil, err
	}
	c := NewWithDialer(d, net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	c.ownsDialer = true
	return c, nil
}

// NewWithDialer builds a client on a shared Dialer. Close leaves the Dialer open.
func NewWithDialer(d *transport.Dialer, addr string) *Client {
	return &Client{addr: addr, dialer: d}
}

func (c *Client) Addr() string {
	return c.addr
}

// Call sends req and waits for the listener's response.
//
// A listener that hangs up without answering yields transport.ErrNoResponse,
// never an empty successful response.
func (c *Client) Call(ctx context.Context, req *message.Request) (*message.Response, error) {
	if req == nil {
		return nil, transport.ErrNilRequest
	}
	start := time.Now()
	log.Debug().Str("module", "client").Str("addr", c.addr).Stringer("request", req).Msg("send message")

	resp, err := c.dialer.RoundTrip(ctx, c.addr, req)
	outcome := Outcome(err)
	metrics.RecordCall(outcome, time.Since(start))
	if err != nil {
		log.Debug().Str("module", "client").Str("addr", c.addr).Str("outcome", outcome).Err(err).Msg("call failed")
		return nil, err
	}

	log.Debug().Str("module", "client").Str("addr", c.addr).Stringer("response", resp).Msg("client receive msg")
	return resp, nil
}

// Close releases the Dialer if the client created it.
func (c *Client) Close() error {
	if c.ownsDialer {
		return c.dialer.Close()
	}
	return nil
}

// Outcome classifies a Call error for metrics and logs.
func Outcome(err error) string {
	var (
		cerr *transport.ConnectionError
		serr *codec.SerializationError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, transport.ErrNoResponse):
		return "no_response"
	case errors.As(err, &cerr):
		if cerr.Timeout() {
			return "timeout"
		}
		return "connection_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &serr), errors.Is(err, protocol.ErrFrameTooLarge):
		return "serialization_error"
	default:
		return "error"
	}
}
