package metrics

import (
	"context"
	"time"
)

// SessionObserver records metrics, traces and logs for one pqlink session.
// It satisfies tunnel.Observer; attach it through tunnel.Config.Observer or
// build one per session from tunnel.Config.ObserverFactory.
type SessionObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	attrs     SpanAttributes
}

// SessionObserverConfig configures a session observer.
type SessionObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	SessionID string
	Role      string // "initiator" or "responder"

	// StreamSuite and Messages describe the session's configuration on
	// its handshake span.
	StreamSuite string
	Messages    string
}

// NewSessionObserver creates a new session observer. Nil fields fall back to
// the global collector, tracer and logger.
func NewSessionObserver(cfg SessionObserverConfig) *SessionObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	return &SessionObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger: cfg.Logger.Named("session").With(Fields{
			"session_id": cfg.SessionID,
			"role":       cfg.Role,
		}),
		attrs: SpanAttributes{
			SessionID:   cfg.SessionID,
			Role:        cfg.Role,
			StreamSuite: cfg.StreamSuite,
			Messages:    cfg.Messages,
		},
	}
}

// OnSessionStart is called when a connection's session is created.
func (o *SessionObserver) OnSessionStart() {
	o.collector.SessionStarted()
	o.logger.Debug("session started")
}

// OnSessionEnd is called when a session is closed cleanly.
func (o *SessionObserver) OnSessionEnd() {
	o.collector.SessionEnded()
	o.logger.Debug("session ended")
}

// OnSessionFailed is called when a session is torn down by an error.
func (o *SessionObserver) OnSessionFailed(err error) {
	o.collector.SessionFailed()
	o.logger.Error("session failed", Fields{"error": errString(err)})
}

// OnHandshakeStart returns a context and completion function for handshake tracing.
func (o *SessionObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(error)) {
	spanName, kind := SpanHandshakeInitiator, SpanKindClient
	if o.attrs.Role == "responder" {
		spanName, kind = SpanHandshakeResponder, SpanKindServer
	}

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, spanName,
		WithSpanKind(kind),
		WithAttributes(o.attrs.ToMap()))

	return ctx, func(err error) {
		duration := time.Since(start)
		o.collector.RecordHandshakeLatency(duration)

		if err != nil {
			o.logger.Warn("handshake failed", Fields{
				"error":    err.Error(),
				"duration": duration.String(),
			})
		} else {
			o.logger.Debug("handshake completed", Fields{"duration": duration.String()})
		}
		endSpan(err)
	}
}

// OnStateChange logs each session state transition.
func (o *SessionObserver) OnStateChange(from, to string) {
	o.logger.Debug("state change", Fields{"from": from, "to": to})
}

// OnSeal traces one ConfidentialData send up to its acknowledgement.
func (o *SessionObserver) OnSeal(ctx context.Context, plaintextLen int) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanSeal, WithSpanKind(SpanKindClient),
		WithAttributes(SpanAttributes{SessionID: o.attrs.SessionID, PayloadBytes: plaintextLen}.ToMap()))

	return ctx, func(err error) {
		o.collector.RecordSealLatency(time.Since(start))
		if err != nil {
			o.collector.RecordSealError()
			o.logger.Debug("seal failed", Fields{"error": err.Error()})
		} else {
			o.collector.RecordBytesSent(uint64(plaintextLen))
			o.collector.RecordMessageSent()
		}
		endSpan(err)
	}
}

// OnOpen traces one received ConfidentialData message.
func (o *SessionObserver) OnOpen(ctx context.Context, ciphertextLen int) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanOpen, WithSpanKind(SpanKindServer),
		WithAttributes(SpanAttributes{SessionID: o.attrs.SessionID, PayloadBytes: ciphertextLen}.ToMap()))

	return ctx, func(err error) {
		o.collector.RecordOpenLatency(time.Since(start))
		if err != nil {
			o.collector.RecordOpenError()
			o.logger.Debug("open failed", Fields{"error": err.Error()})
		} else {
			o.collector.RecordBytesReceived(uint64(ciphertextLen))
			o.collector.RecordMessageReceived()
		}
		endSpan(err)
	}
}

// OnCryptoOp traces one ML-DSA-44 or ML-KEM-512 operation inside the
// handshake span and records its latency.
func (o *SessionObserver) OnCryptoOp(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, primitiveSpan(op),
		WithAttributes(SpanAttributes{SessionID: o.attrs.SessionID}.ToMap()))

	return ctx, func(err error) {
		d := time.Since(start)
		o.collector.RecordPrimitiveLatency(op, d)
		if err == nil {
			o.logger.Debug(op+" done", Fields{"duration": d.String()})
		}
		endSpan(err)
	}
}

// OnAuthFailure records a responder signature that did not verify.
func (o *SessionObserver) OnAuthFailure() {
	o.collector.RecordAuthFailure()
	o.logger.Warn("authentication failed")
}

// OnCryptoError records a failed cryptographic operation.
func (o *SessionObserver) OnCryptoError(op string, err error) {
	o.collector.RecordCryptoError()
	o.logger.Error("crypto operation failed", Fields{"op": op, "error": errString(err)})
}

// OnParseError records a discarded malformed line.
func (o *SessionObserver) OnParseError(err error) {
	o.collector.RecordParseError()
	o.logger.Debug("malformed line", Fields{"error": errString(err)})
}

// OnSequenceError records a message that aborted the session.
func (o *SessionObserver) OnSequenceError(err error) {
	o.collector.RecordSequenceError()
	o.logger.Warn("sequence error", Fields{"error": errString(err)})
}

// OnUnknownMessage records a line with an unrecognized tag.
func (o *SessionObserver) OnUnknownMessage(raw string) {
	o.collector.RecordUnknownMessage()
	if len(raw) > 64 {
		raw = raw[:64]
	}
	o.logger.Debug("unknown message", Fields{"raw": raw})
}

// Logger returns the observer's logger for custom logging.
func (o *SessionObserver) Logger() *Logger {
	return o.logger
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
