package middleware

import (
	"context"
	"errors"
	"time"

	"gen-rpc/gen"
)

// ErrTimeout is returned when a handler does not finish within its budget.
var ErrTimeout = errors.New("call timed out")

// TimeOutMiddleware bounds each call. The handler keeps running in the background
// after the deadline, so handlers should watch ctx.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *gen.IncomingCall) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, call)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
