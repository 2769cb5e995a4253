package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics from sessions and listeners.
type Collector struct {
	// Session metrics
	sessionsActive   atomic.Uint64
	sessionsTotal    atomic.Uint64
	sessionsFailed   atomic.Uint64
	handshakeLatency *Histogram

	// Confidential data metrics
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64

	// Security metrics
	authFailures atomic.Uint64
	cryptoErrors atomic.Uint64

	// Protocol metrics
	parseErrors     atomic.Uint64
	sequenceErrors  atomic.Uint64
	unknownMessages atomic.Uint64

	// Error metrics
	sealErrors atomic.Uint64
	openErrors atomic.Uint64

	// Rate limiting
	connectionRateLimits atomic.Uint64
	handshakeRateLimits  atomic.Uint64

	// Performance histograms
	sealLatency      *Histogram
	openLatency      *Histogram
	primitiveLatency map[string]*Histogram

	// Creation time for uptime tracking
	createdAt time.Time

	// Labels for this collector instance
	labels Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}

	primitives := make(map[string]*Histogram, len(PrimitiveOps))
	for _, op := range PrimitiveOps {
		primitives[op] = NewHistogram(PrimitiveBuckets)
	}
	return &Collector{
		handshakeLatency: NewHistogram(HandshakeBuckets),
		sealLatency:      NewHistogram(DataBuckets),
		openLatency:      NewHistogram(DataBuckets),
		primitiveLatency: primitives,
		createdAt:        time.Now(),
		labels:           labels,
	}
}

// PrimitiveOps names the timed signature and KEM operations.
var PrimitiveOps = []string{"sign", "verify", "encapsulate", "decapsulate"}

// --- Session Metrics ---

// SessionStarted increments active and total session counters.
func (c *Collector) SessionStarted() {
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionEnded decrements active session counter.
func (c *Collector) SessionEnded() {
	for {
		current := c.sessionsActive.Load()
		if current == 0 {
			return
		}
		if c.sessionsActive.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// SessionFailed records a session torn down by an error. The session is no
// longer active.
func (c *Collector) SessionFailed() {
	c.sessionsFailed.Add(1)
	c.SessionEnded()
}

// RecordHandshakeLatency records a handshake duration.
func (c *Collector) RecordHandshakeLatency(d time.Duration) {
	c.handshakeLatency.ObserveDuration(d, time.Millisecond)
}

// --- Confidential Data Metrics ---

// RecordBytesSent adds to the plaintext bytes sent counter.
func (c *Collector) RecordBytesSent(n uint64) {
	c.bytesSent.Add(n)
}

// RecordBytesReceived adds to the plaintext bytes received counter.
func (c *Collector) RecordBytesReceived(n uint64) {
	c.bytesReceived.Add(n)
}

// RecordMessageSent increments the ConfidentialData sent counter.
func (c *Collector) RecordMessageSent() {
	c.messagesSent.Add(1)
}

// RecordMessageReceived increments the ConfidentialData received counter.
func (c *Collector) RecordMessageReceived() {
	c.messagesReceived.Add(1)
}

// --- Security Metrics ---

// RecordAuthFailure increments the authentication failure counter.
func (c *Collector) RecordAuthFailure() {
	c.authFailures.Add(1)
}

// RecordCryptoError counts a failed signing, KEM or keystream operation.
func (c *Collector) RecordCryptoError() {
	c.cryptoErrors.Add(1)
}

// --- Protocol Metrics ---

// RecordParseError counts a discarded malformed line.
func (c *Collector) RecordParseError() {
	c.parseErrors.Add(1)
}

// RecordSequenceError counts a message received out of order or disabled.
func (c *Collector) RecordSequenceError() {
	c.sequenceErrors.Add(1)
}

// RecordUnknownMessage counts a line with an unrecognized tag.
func (c *Collector) RecordUnknownMessage() {
	c.unknownMessages.Add(1)
}

// --- Error Metrics ---

// RecordSealError increments the send error counter.
func (c *Collector) RecordSealError() {
	c.sealErrors.Add(1)
}

// RecordOpenError increments the receive error counter.
func (c *Collector) RecordOpenError() {
	c.openErrors.Add(1)
}

// --- Rate Limiting ---

// RecordConnectionRateLimit counts a connection refused by the per-IP limit.
func (c *Collector) RecordConnectionRateLimit() {
	c.connectionRateLimits.Add(1)
}

// RecordHandshakeRateLimit counts a connection refused by the handshake limit.
func (c *Collector) RecordHandshakeRateLimit() {
	c.handshakeRateLimits.Add(1)
}

// --- Performance Metrics ---

// RecordSealLatency records the time from sealing to the peer's Ack.
func (c *Collector) RecordSealLatency(d time.Duration) {
	c.sealLatency.ObserveDuration(d, time.Microsecond)
}

// RecordOpenLatency records decryption latency.
func (c *Collector) RecordOpenLatency(d time.Duration) {
	c.openLatency.ObserveDuration(d, time.Microsecond)
}

// RecordPrimitiveLatency records one signature or KEM operation. Operations
// outside PrimitiveOps are ignored.
func (c *Collector) RecordPrimitiveLatency(op string, d time.Duration) {
	if h, ok := c.primitiveLatency[op]; ok {
		h.ObserveDuration(d, time.Microsecond)
	}
}

// --- Snapshot ---

// Snapshot returns a point-in-time snapshot of all metrics.
type Snapshot struct {
	// Timestamp of the snapshot
	Timestamp time.Time

	// Uptime since collector creation
	Uptime time.Duration

	// Session metrics
	SessionsActive uint64
	SessionsTotal  uint64
	SessionsFailed uint64

	// Confidential data metrics
	BytesSent        uint64
	BytesReceived    uint64
	MessagesSent     uint64
	MessagesReceived uint64

	// Security metrics
	AuthFailures uint64
	CryptoErrors uint64

	// Protocol metrics
	ParseErrors     uint64
	SequenceErrors  uint64
	UnknownMessages uint64

	// Error metrics
	SealErrors uint64
	OpenErrors uint64

	// Rate limiting
	ConnectionRateLimits uint64
	HandshakeRateLimits  uint64

	// Histogram summaries
	HandshakeLatency HistogramSummary
	SealLatency      HistogramSummary
	OpenLatency      HistogramSummary

	// PrimitiveLatency is keyed by PrimitiveOps.
	PrimitiveLatency map[string]HistogramSummary

	// Labels
	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	primitives := make(map[string]HistogramSummary, len(c.primitiveLatency))
	for op, h := range c.primitiveLatency {
		primitives[op] = h.Summary()
	}
	return Snapshot{
		Timestamp:            time.Now(),
		Uptime:               time.Since(c.createdAt),
		SessionsActive:       c.sessionsActive.Load(),
		SessionsTotal:        c.sessionsTotal.Load(),
		SessionsFailed:       c.sessionsFailed.Load(),
		BytesSent:            c.bytesSent.Load(),
		BytesReceived:        c.bytesReceived.Load(),
		MessagesSent:         c.messagesSent.Load(),
		MessagesReceived:     c.messagesReceived.Load(),
		AuthFailures:         c.authFailures.Load(),
		CryptoErrors:         c.cryptoErrors.Load(),
		ParseErrors:          c.parseErrors.Load(),
		SequenceErrors:       c.sequenceErrors.Load(),
		UnknownMessages:      c.unknownMessages.Load(),
		SealErrors:           c.sealErrors.Load(),
		OpenErrors:           c.openErrors.Load(),
		ConnectionRateLimits: c.connectionRateLimits.Load(),
		HandshakeRateLimits:  c.handshakeRateLimits.Load(),
		HandshakeLatency:     c.handshakeLatency.Summary(),
		SealLatency:          c.sealLatency.Summary(),
		OpenLatency:          c.openLatency.Summary(),
		PrimitiveLatency:     primitives,
		Labels:               c.labels,
	}
}

// Reset clears all metrics (useful for testing).
func (c *Collector) Reset() {
	c.sessionsActive.Store(0)
	c.sessionsTotal.Store(0)
	c.sessionsFailed.Store(0)
	c.bytesSent.Store(0)
	c.bytesReceived.Store(0)
	c.messagesSent.Store(0)
	c.messagesReceived.Store(0)
	c.authFailures.Store(0)
	c.cryptoErrors.Store(0)
	c.parseErrors.Store(0)
	c.sequenceErrors.Store(0)
	c.unknownMessages.Store(0)
	c.sealErrors.Store(0)
	c.openErrors.Store(0)
	c.connectionRateLimits.Store(0)
	c.handshakeRateLimits.Store(0)
	c.handshakeLatency.Reset()
	c.sealLatency.Reset()
	c.openLatency.Reset()
	for _, h := range c.primitiveLatency {
		h.Reset()
	}
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector   *Collector
	globalCollectorMu sync.Mutex
)

// Global returns the global metrics collector, creating one on first use.
func Global() *Collector {
	globalCollectorMu.Lock()
	defer globalCollectorMu.Unlock()
	if globalCollector == nil {
		globalCollector = NewCollector(Labels{"instance": "default"})
	}
	return globalCollector
}

// SetGlobal replaces the global metrics collector. Observers created
// earlier keep the collector they were given.
func SetGlobal(c *Collector) {
	globalCollectorMu.Lock()
	defer globalCollectorMu.Unlock()
	globalCollector = c
}
