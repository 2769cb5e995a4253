//go:build otel

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelTracer sends pqlink spans to the globally registered OpenTelemetry
// tracer provider.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer returns a tracer under the instrumentation scope name, which
// defaults to "pqlink".
func NewOTelTracer(name string) *OTelTracer {
	if name == "" {
		name = "pqlink"
	}
	return &OTelTracer{tracer: otel.Tracer(name)}
}

// StartSpan starts an OpenTelemetry span. A failed span records the error
// and gets status Error.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := newSpanConfig(opts)
	kind := trace.SpanKindInternal
	switch cfg.kind {
	case SpanKindServer:
		kind = trace.SpanKindServer
	case SpanKindClient:
		kind = trace.SpanKindClient
	}

	attrs := make([]attribute.KeyValue, 0, len(cfg.attrs))
	for k, v := range cfg.attrs {
		attrs = append(attrs, toAttribute(k, v))
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// OTelEnabled reports whether the binary was built with the otel tag.
func OTelEnabled() bool { return true }

func toAttribute(k string, v any) attribute.KeyValue {
	switch v := v.(type) {
	case string:
		return attribute.String(k, v)
	case int:
		return attribute.Int(k, v)
	case int64:
		return attribute.Int64(k, v)
	case bool:
		return attribute.Bool(k, v)
	}
	return attribute.String(k, fmt.Sprint(v))
}
