package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"oneshot-rpc/message"
)

// RateLimitMiddleware admits requests through a token bucket refilled at r
// tokens per second with the given burst. Rejected requests fail with
// ErrRateLimited and never reach next.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
