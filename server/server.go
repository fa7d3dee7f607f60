// Package server implements the listener side: accept a connection, read one
// request frame, dispatch it and answer with one response frame, then close.
//
// Per-connection pipeline:
//
//	Accept conn → handleConn (own goroutine)
//	  → Decoder.Receive (one request) → Middleware Chain → Dispatcher → Encoder.Encode → close
//
// A decode failure or a dispatcher error closes the connection without a
// response; the caller observes transport.ErrNoResponse.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"oneshot-rpc/codec"
	"oneshot-rpc/message"
	"oneshot-rpc/metrics"
	"oneshot-rpc/middleware"
	"oneshot-rpc/protocol"
)

var (
	ErrServerClosed     = errors.New("server: closed")
	errNilResponse      = errors.New("dispatcher returned no response")
	errShutdownDeadline = errors.New("server: timeout waiting for connections to finish")
)

// Connection outcomes reported to metrics.
const (
	outcomeResponded     = "responded"
	outcomeNoRequest     = "no_request"
	outcomeDecodeError   = "decode_error"
	outcomeDispatchError = "dispatch_error"
	outcomeWriteError    = "write_error"
	outcomePanic         = "panic"
)

type Server struct {
	dispatcher     Dispatcher
	codec          codec.Codec
	limits         protocol.Limits
	requestTimeout time.Duration

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	wg       sync.WaitGroup
	shutdown atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
}

type Option func(*Server) error

// WithDispatcher replaces the default StaticDispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Server) error {
		if d == nil {
			return errors.New("server: nil dispatcher")
		}
		s.dispatcher = d
		return nil
	}
}

func WithCodec(t codec.CodecType) Option {
	return func(s *Server) error {
		c, err := codec.GetCodec(t)
		if err != nil {
			return err
		}
		s.codec = c
		return nil
	}
}

func WithLimits(l protocol.Limits) Option {
	return func(s *Server) error {
		s.limits = l
		return nil
	}
}

// WithRequestTimeout bounds how long an accepted connection may take to
// deliver its request. Zero waits forever.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d < 0 {
			return fmt.Errorf("server: negative request timeout %s", d)
		}
		s.requestTimeout = d
		return nil
	}
}

// New builds a server that answers every request with DefaultMessage unless
// WithDispatcher says otherwise. The default serializer is binary.
func New(opts ...Option) (*Server, error) {
	c, err := codec.GetCodec(codec.CodecTypeBinary)
	if err != nil {
		return nil, err
	}
	s := &Server{
		dispatcher: NewStaticDispatcher(),
		codec:      c,
		limits:     protocol.DefaultLimits(),
		conns:      make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Use registers a middleware. Middlewares run in the order they are added and
// must be registered before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener runs the accept loop on ln until Shutdown. It returns nil
// after a Shutdown and ErrServerClosed if Shutdown came first.
func (svr *Server) ServeListener(ln net.Listener) error {
	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	svr.listener = ln
	svr.mu.Unlock()

	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatcher.Dispatch)
	log.Info().Str("module", "server").Str("addr", ln.Addr().String()).Str("codec", svr.codec.Type().String()).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn().Str("module", "server").Err(err).Msg("accept")
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}
		if !svr.track(conn) {
			conn.Close()
			continue
		}
		go svr.handleConn(conn)
	}
}

// Addr is the bound listener address, nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// track registers conn with the WaitGroup under the same lock Shutdown takes,
// so no Add can follow Shutdown's Wait.
func (svr *Server) track(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	svr.wg.Add(1)
	return true
}

func (svr *Server) forget(conn net.Conn) {
	svr.mu.Lock()
	delete(svr.conns, conn)
	svr.mu.Unlock()
}

// handleConn owns conn for its whole life. Panics stop here and take down
// only this connection.
func (svr *Server) handleConn(conn net.Conn) {
	defer svr.wg.Done()

	logger := log.With().
		Str("module", "server").
		Str("conn", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	done := metrics.ConnectionOpened()
	outcome := outcomePanic

	defer func() {
		if r := recover(); r != nil {
			outcome = outcomePanic
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("connection handler panicked")
		}
		conn.Close()
		svr.forget(conn)
		done(outcome)
		logger.Debug().Str("outcome", outcome).Msg("connection closed")
	}()

	outcome = svr.serveConn(conn, logger)
}

func (svr *Server) serveConn(conn net.Conn, logger zerolog.Logger) string {
	if svr.requestTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(svr.requestTimeout))
	}

	dec := protocol.NewDecoder[message.Request](svr.codec, svr.limits)
	req, err := dec.Receive(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			logger.Debug().Msg("peer closed before sending a request")
			return outcomeNoRequest
		}
		logger.Warn().Err(err).Msg("decode request failed")
		return outcomeDecodeError
	}
	conn.SetReadDeadline(time.Time{})
	logger.Debug().Stringer("request", &req).Msg("server receive msg")

	resp, err := svr.handler(svr.ctx, &req)
	if err == nil && resp == nil {
		err = errNilResponse
	}
	if err != nil {
		logger.Warn().Err(err).Str("interface", req.InterfaceName).Str("method", req.MethodName).Msg("dispatch failed")
		return outcomeDispatchError
	}

	enc := protocol.NewEncoder[message.Response](svr.codec, svr.limits)
	if err := enc.Encode(conn, resp); err != nil {
		logger.Warn().Err(err).Msg("write response failed")
		return outcomeWriteError
	}
	logger.Debug().Stringer("response", resp).Msg("server send msg")
	return outcomeResponded
}

// Shutdown stops accepting and waits up to timeout for open connections to
// finish. Past the timeout it cancels in-flight dispatches, closes the
// remaining connections and returns an error.
func (svr *Server) Shutdown(timeout time.Duration) error {
	// the flag goes up before the listener closes so Accept's error reads as intentional
	svr.mu.Lock()
	svr.shutdown.Store(true)
	ln := svr.listener
	svr.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		svr.cancel()
		return nil
	case <-time.After(timeout):
	}

	svr.cancel()
	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return errShutdownDeadline
}
