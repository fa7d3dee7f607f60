package middleware

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"oneshot-rpc/message"
)

// LoggingMiddleware logs every request with a running count of requests seen
// by this middleware instance.
func LoggingMiddleware() Middleware {
	var received atomic.Uint64
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			n := received.Add(1)
			start := time.Now()
			resp, err := next(ctx, req)
			event := log.Info()
			if err != nil {
				event = log.Warn().Err(err)
			}
			event.Str("module", "middleware").
				Str("interface", req.InterfaceName).
				Str("method", req.MethodName).
				Uint64("times", n).
				Dur("duration", time.Since(start)).
				Msg("server receive msg")
			return resp, err
		}
	}
}
