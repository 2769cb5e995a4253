//go:build !otel

package metrics

import "context"

// OTelTracer stands in for the OpenTelemetry tracer in builds without the
// otel tag. It drops every span; the CLI refuses --tracing=otel instead of
// using it silently.
type OTelTracer struct{}

// NewOTelTracer returns the stand-in tracer.
func NewOTelTracer(string) *OTelTracer { return &OTelTracer{} }

func (*OTelTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// OTelEnabled reports whether the binary was built with the otel tag.
func OTelEnabled() bool { return false }
