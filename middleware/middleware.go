// Package middleware wraps the listener's dispatcher in an onion of
// cross-cutting handlers: Chain(A, B)(h) runs A, then B, then h.
package middleware

import (
	"context"
	"errors"

	"oneshot-rpc/message"
)

var (
	ErrTimeout     = errors.New("request timed out")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// HandlerFunc produces the response for one decoded request.
type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one given is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
