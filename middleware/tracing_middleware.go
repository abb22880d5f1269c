package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gen-rpc/gen"
)

// TracingMiddleware opens one span per call, named "Module:Function".
func TracingMiddleware(tracer trace.Tracer) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *gen.IncomingCall) (any, error) {
			ctx, span := tracer.Start(ctx, call.Module()+":"+call.Function(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("rpc.system", "gen_call"),
					attribute.String("rpc.service", call.Module()),
					attribute.String("rpc.method", call.Function()),
					attribute.String("gen.node", string(call.NodeName())),
					attribute.String("gen.from", call.Sender().String()),
				))
			defer span.End()

			result, err := next(ctx, call)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		}
	}
}
