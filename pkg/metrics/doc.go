// Package metrics provides observability for pqlink sessions and listeners.
//
// It offers:
//   - a Collector of counters and histograms for sessions, confidential
//     traffic, protocol errors and rate limiting
//   - Prometheus text exposition and an HTTP server with health endpoints
//   - a Tracer interface with in-memory and OpenTelemetry backends
//   - the structured Logger used throughout the module
//   - SessionObserver and RateLimitObserver, which plug into tunnel.Config
//
// # Wiring a listener
//
//	collector := metrics.NewCollector(metrics.Labels{"instance": "node-1"})
//	logger := metrics.NewLogger(metrics.WithOutput(os.Stderr), metrics.WithFormat(metrics.FormatJSON))
//
//	cfg := tunnel.DefaultConfig()
//	cfg.Logger = logger
//	cfg.ObserverFactory = func(s *tunnel.Session) tunnel.Observer {
//		return metrics.NewSessionObserver(metrics.SessionObserverConfig{
//			Collector:   collector,
//			Logger:      logger,
//			SessionID:   s.ID(),
//			Role:        s.Role().String(),
//			StreamSuite: cfg.Suite.String(),
//			Messages:    s.Messages().String(),
//		})
//	}
//	cfg.RateLimitObserver = metrics.NewRateLimitObserver(collector, logger)
//
// # Serving metrics
//
//	server := metrics.NewServer(metrics.ServerConfig{
//		Collector:        collector,
//		Version:          version.Version,
//		Namespace:        "pqlink",
//		EnablePrometheus: true,
//		EnableHealth:     true,
//	})
//	server.AddHealthCheck("heap", metrics.MemoryCheck(256<<20))
//	go server.Serve(ctx, ":9090")
//
// This exposes /metrics, /health, /healthz and /readyz. Histograms use
// HandshakeBuckets, PrimitiveBuckets and DataBuckets, sized for peers as
// slow as a microcontroller signing ML-DSA-44 in software.
//
// # Tracing
//
// Each side's handshake span holds one child span per primitive:
// pqlink.auth.sign and pqlink.kem.decapsulate on the responder,
// pqlink.auth.verify and pqlink.kem.encapsulate on the initiator. Data
// messages get pqlink.seal and pqlink.open spans. Build with -tags otel to route them through
// the global OpenTelemetry provider:
//
//	metrics.SetTracer(metrics.NewOTelTracer("pqlink"))
package metrics
