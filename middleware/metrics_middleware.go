package middleware

import (
	"context"
	"time"

	"oneshot-rpc/message"
	"oneshot-rpc/metrics"
)

// MetricsMiddleware records dispatch latency per interface and method.
func MetricsMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			metrics.RecordDispatch(req.InterfaceName, req.MethodName, err == nil, time.Since(start))
			return resp, err
		}
	}
}
