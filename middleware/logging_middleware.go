package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gen-rpc/gen"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *gen.IncomingCall) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			fields := []zap.Field{
				zap.String("mfa", call.Module()+":"+call.Function()),
				zap.Int("arity", len(call.Args())),
				zap.Stringer("from", call.Sender()),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("call failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("call handled", fields...)
			}
			return result, err
		}
	}
}
