package orkestra

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ambiyansyah-risyal/orkestra"

// Span attribute keys.
const (
	AttrService      = attribute.Key("rpc.service")
	AttrOperation    = attribute.Key("rpc.method")
	AttrAttempt      = attribute.Key("orkestra.attempt")
	AttrInvocationID = attribute.Key("orkestra.invocation_id")
	AttrStatusCode   = attribute.Key("http.response.status_code")
	AttrErrorType    = attribute.Key("error.type")
)

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// endSpan records err, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
