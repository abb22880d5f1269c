// Package middleware wraps call handlers. A handler answers one rpc:call with a
// result or an error; the dispatcher turns the error into an exit reply.
package middleware

import (
	"context"

	"gen-rpc/gen"
)

type HandlerFunc func(ctx context.Context, call *gen.IncomingCall) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed runs outermost:
// Chain(A, B)(h) behaves as A(B(h)).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
