package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracer starts spans around handshakes, primitives and data messages.
// Backends are the in-memory SimpleTracer and, with the otel build tag,
// OpenTelemetry.
type Tracer interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder)
}

// SpanEnder ends a span; a non-nil error marks it failed.
type SpanEnder func(err error)

// SpanOption configures a span at start.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind  SpanKind
	attrs map[string]any
}

func newSpanConfig(opts []SpanOption) spanConfig {
	cfg := spanConfig{attrs: map[string]any{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// SpanKind is the role of a span in an exchange.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

func (k SpanKind) String() string {
	switch k {
	case SpanKindServer:
		return "server"
	case SpanKindClient:
		return "client"
	}
	return "internal"
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

// WithAttributes merges attrs into the span's attributes.
func WithAttributes(attrs map[string]any) SpanOption {
	return func(c *spanConfig) {
		for k, v := range attrs {
			c.attrs[k] = v
		}
	}
}

// NoOpTracer discards every span.
type NoOpTracer struct{}

func (NoOpTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, SpanEnder) {
	return ctx, func(error) {}
}

// SimpleTracer keeps finished spans in memory. The CLI uses it for
// --tracing=simple and tests use it to assert what was traced.
type SimpleTracer struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

// RecordedSpan is one finished span.
type RecordedSpan struct {
	Name       string
	Kind       SpanKind
	Start      time.Time
	Duration   time.Duration
	Attributes map[string]any
	Err        error
	TraceID    string
	SpanID     string
	ParentID   string
}

// NewSimpleTracer creates an empty SimpleTracer.
func NewSimpleTracer() *SimpleTracer {
	return &SimpleTracer{}
}

// StartSpan starts a span. A span already in ctx becomes its parent and
// shares its trace ID.
func (t *SimpleTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanEnder) {
	cfg := newSpanConfig(opts)
	span := &RecordedSpan{
		Name:       name,
		Kind:       cfg.kind,
		Start:      time.Now(),
		Attributes: cfg.attrs,
		SpanID:     newSpanID(),
	}
	if parent, ok := ctx.Value(spanKey{}).(*RecordedSpan); ok {
		span.TraceID, span.ParentID = parent.TraceID, parent.SpanID
	} else {
		span.TraceID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	var once sync.Once
	return context.WithValue(ctx, spanKey{}, span), func(err error) {
		once.Do(func() {
			span.Duration = time.Since(span.Start)
			span.Err = err
			t.mu.Lock()
			t.spans = append(t.spans, *span)
			t.mu.Unlock()
		})
	}
}

// Spans returns the finished spans in the order they ended.
func (t *SimpleTracer) Spans() []RecordedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RecordedSpan(nil), t.spans...)
}

// Count returns how many finished spans are named name.
func (t *SimpleTracer) Count(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.spans {
		if s.Name == name {
			n++
		}
	}
	return n
}

type spanKey struct{}

// newSpanID returns 16 hex digits taken from a random UUID.
func newSpanID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

var (
	tracerMu     sync.RWMutex
	globalTracer Tracer = NoOpTracer{}
)

// SetTracer replaces the tracer used by observers built without one.
func SetTracer(t Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer.
func GetTracer() Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	return globalTracer
}

// Span names.
const (
	SpanHandshakeInitiator = "pqlink.handshake.initiator"
	SpanHandshakeResponder = "pqlink.handshake.responder"
	SpanSeal               = "pqlink.seal"
	SpanOpen               = "pqlink.open"
	SpanAuthSign           = "pqlink.auth.sign"
	SpanAuthVerify         = "pqlink.auth.verify"
	SpanKEMEncapsulate     = "pqlink.kem.encapsulate"
	SpanKEMDecapsulate     = "pqlink.kem.decapsulate"
)

// primitiveSpan maps an operation in PrimitiveOps to its span name.
func primitiveSpan(op string) string {
	switch op {
	case "sign":
		return SpanAuthSign
	case "verify":
		return SpanAuthVerify
	case "encapsulate":
		return SpanKEMEncapsulate
	case "decapsulate":
		return SpanKEMDecapsulate
	}
	return "pqlink." + op
}

// SpanAttributes are the attributes pqlink puts on its spans.
type SpanAttributes struct {
	SessionID    string
	Role         string
	StreamSuite  string
	Messages     string
	PayloadBytes int
}

// ToMap returns the non-zero attributes under their span keys.
func (a SpanAttributes) ToMap() map[string]any {
	m := make(map[string]any, 5)
	for k, v := range map[string]string{
		"session.id":          a.SessionID,
		"session.role":        a.Role,
		"session.messages":    a.Messages,
		"crypto.stream_suite": a.StreamSuite,
	} {
		if v != "" {
			m[k] = v
		}
	}
	if a.PayloadBytes > 0 {
		m["payload.bytes"] = a.PayloadBytes
	}
	return m
}
