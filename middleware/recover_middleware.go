package middleware

import (
	"context"
	"fmt"

	"gen-rpc/gen"
)

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// RecoverMiddleware turns a handler panic into an error so the caller still gets
// an exit reply and the dispatcher keeps running.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *gen.IncomingCall) (result any, err error) {
			defer func() {
				if v := recover(); v != nil {
					result, err = nil, &PanicError{Value: v}
				}
			}()
			return next(ctx, call)
		}
	}
}
