package transport

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNoResponse means the listener closed the connection cleanly before a
	// single byte of a response frame arrived.
	ErrNoResponse = errors.New("transport: connection closed without a response")

	ErrDialerClosed = errors.New("transport: dialer closed")
	ErrNilRequest   = errors.New("transport: nil request")
)

// ConnectionError is a transport-level failure to establish or keep a
// connection: dial (including connect timeout), write, or read.
type ConnectionError struct {
	Op   string // "dial", "write" or "read"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline expiring.
func (e *ConnectionError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
