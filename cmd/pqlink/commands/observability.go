package commands

import (
	"fmt"
	"strings"

	"github.com/pzverkov/pqlink/pkg/metrics"
	"github.com/pzverkov/pqlink/pkg/tunnel"
)

// setupObservability installs the tracer and attaches per-session and
// rate limit observers feeding a fresh collector to cfg.
func setupObservability(opts *options, cfg *tunnel.Config, tracing string) (*metrics.Collector, error) {
	switch strings.ToLower(tracing) {
	case "", "none":
		metrics.SetTracer(metrics.NoOpTracer{})
	case "simple":
		metrics.SetTracer(metrics.NewSimpleTracer())
	case "otel":
		if !metrics.OTelEnabled() {
			return nil, fmt.Errorf("otel tracing not enabled (build with -tags otel)")
		}
		metrics.SetTracer(metrics.NewOTelTracer("pqlink"))
	default:
		return nil, fmt.Errorf("invalid tracing mode %q (use none, simple, or otel)", tracing)
	}

	collector := metrics.NewCollector(metrics.Labels{"service": "pqlink"})
	metrics.SetGlobal(collector)

	suite := cfg.Suite.String()
	cfg.ObserverFactory = func(s *tunnel.Session) tunnel.Observer {
		return metrics.NewSessionObserver(metrics.SessionObserverConfig{
			Collector:   collector,
			Logger:      opts.logger,
			SessionID:   s.ID(),
			Role:        s.Role().String(),
			StreamSuite: suite,
			Messages:    s.Messages().String(),
		})
	}
	cfg.RateLimitObserver = metrics.NewRateLimitObserver(collector, opts.logger)

	return collector, nil
}
