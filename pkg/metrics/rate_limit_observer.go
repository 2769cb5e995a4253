package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// rateLimitWarnEvery limits Warn lines to one per IP and limit kind; later
// refusals inside the window log at Debug. Every refusal is counted.
const rateLimitWarnEvery = time.Minute

// maxWarnedIPs bounds the per-IP warning table.
const maxWarnedIPs = 4096

// RateLimitObserver counts listener refusals and logs them without letting
// one flooding peer fill the log. It satisfies tunnel.RateLimitObserver.
type RateLimitObserver struct {
	collector *Collector
	logger    *Logger
	clock     clock.Clock

	mu     sync.Mutex
	warned map[string]time.Time // kind + "|" + ip
}

// NewRateLimitObserver creates a rate limit observer. Nil arguments fall back
// to the global collector and logger.
func NewRateLimitObserver(collector *Collector, logger *Logger) *RateLimitObserver {
	if collector == nil {
		collector = Global()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &RateLimitObserver{
		collector: collector,
		logger:    logger.Named("rate_limit"),
		clock:     clock.New(),
		warned:    make(map[string]time.Time),
	}
}

// OnConnectionRateLimit records a connection refused by the per-IP limit.
func (o *RateLimitObserver) OnConnectionRateLimit(remoteIP string) {
	o.collector.RecordConnectionRateLimit()
	o.report("connection", remoteIP)
}

// OnHandshakeRateLimit records a connection refused by the handshake limit.
func (o *RateLimitObserver) OnHandshakeRateLimit(remoteIP string) {
	o.collector.RecordHandshakeRateLimit()
	o.report("handshake", remoteIP)
}

func (o *RateLimitObserver) report(kind, ip string) {
	msg := kind + " rate limit exceeded"
	fields := Fields{"remote_ip": ip}
	if o.shouldWarn(kind + "|" + ip) {
		o.logger.Warn(msg, fields)
		return
	}
	o.logger.Debug(msg, fields)
}

func (o *RateLimitObserver) shouldWarn(key string) bool {
	now := o.clock.Now()
	o.mu.Lock()
	defer o.mu.Unlock()

	if last, ok := o.warned[key]; ok && now.Sub(last) < rateLimitWarnEvery {
		return false
	}
	if len(o.warned) >= maxWarnedIPs {
		for k, last := range o.warned {
			if now.Sub(last) >= rateLimitWarnEvery {
				delete(o.warned, k)
			}
		}
		if len(o.warned) >= maxWarnedIPs {
			return false
		}
	}
	o.warned[key] = now
	return true
}
