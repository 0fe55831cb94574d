package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/queue"
)

// tracerName is the instrumentation scope name for batchflow tracing.
const tracerName = "github.com/xraph/batchflow"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: batchflow.job.id, batchflow.job.name,
// batchflow.run.id, batchflow.group, batchflow.timezone, batchflow.run_date.
// A returned error or an error result sets the span status to codes.Error.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, req *handler.Request, next Handler) (queue.Result, error) {
		ctx, span := tracer.Start(ctx, "batchflow.job.execute",
			trace.WithAttributes(
				attribute.String("batchflow.job.id", req.JobID.String()),
				attribute.String("batchflow.job.name", req.Name()),
				attribute.String("batchflow.run.id", req.RunID.String()),
				attribute.String("batchflow.group", req.GroupName),
				attribute.String("batchflow.timezone", req.TimeZone),
				attribute.String("batchflow.run_date", req.RunDate.Format(queue.DateLayout)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res, err := next(ctx)
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case outcome(res, nil) == "error":
			span.SetStatus(codes.Error, res.Normalize().Message.String())
		default:
			span.SetAttributes(attribute.String("batchflow.next_step", string(res.Normalize().NextStep)))
			span.SetStatus(codes.Ok, "")
		}

		return res, err
	}
}
