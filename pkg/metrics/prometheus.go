package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter exports metrics in Prometheus text format.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates a new Prometheus exporter for the given collector.
// The namespace is prepended to all metric names (e.g., "pqlink").
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	return &PrometheusExporter{
		collector: c,
		namespace: namespace,
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		e.WriteMetrics(w)
	})
}

// promSeries is one scalar series in the exposition.
type promSeries struct {
	name  string
	help  string
	typ   string
	value float64
}

// WriteMetrics writes all metrics in Prometheus text format to the writer.
func (e *PrometheusExporter) WriteMetrics(w io.Writer) {
	snap := e.collector.Snapshot()
	labels := e.formatLabels(snap.Labels)

	series := []promSeries{
		{"sessions_active", "Number of currently active sessions", "gauge", float64(snap.SessionsActive)},
		{"sessions_total", "Total number of sessions created", "counter", float64(snap.SessionsTotal)},
		{"sessions_failed_total", "Total number of sessions torn down by an error", "counter", float64(snap.SessionsFailed)},

		{"bytes_sent_total", "Total confidential plaintext bytes sent", "counter", float64(snap.BytesSent)},
		{"bytes_received_total", "Total confidential plaintext bytes received", "counter", float64(snap.BytesReceived)},
		{"messages_sent_total", "Total ConfidentialData messages sent", "counter", float64(snap.MessagesSent)},
		{"messages_received_total", "Total ConfidentialData messages received", "counter", float64(snap.MessagesReceived)},

		{"auth_failures_total", "Total signature verification failures", "counter", float64(snap.AuthFailures)},
		{"crypto_errors_total", "Total failed signing, KEM or keystream operations", "counter", float64(snap.CryptoErrors)},

		{"parse_errors_total", "Total malformed lines discarded", "counter", float64(snap.ParseErrors)},
		{"sequence_errors_total", "Total sessions aborted by an out-of-order or disabled message", "counter", float64(snap.SequenceErrors)},
		{"unknown_messages_total", "Total lines with an unrecognized tag", "counter", float64(snap.UnknownMessages)},

		{"seal_errors_total", "Total failed sends", "counter", float64(snap.SealErrors)},
		{"open_errors_total", "Total failed receives", "counter", float64(snap.OpenErrors)},

		{"connection_rate_limits_total", "Total connections refused by the per-IP limit", "counter", float64(snap.ConnectionRateLimits)},
		{"handshake_rate_limits_total", "Total connections refused by the handshake rate limit", "counter", float64(snap.HandshakeRateLimits)},

		{"uptime_seconds", "Time since the collector was created", "gauge", snap.Uptime.Seconds()},
	}

	for _, m := range series {
		e.writeHelp(w, m.name, m.help)
		e.writeType(w, m.name, m.typ)
		e.writeMetric(w, m.name, labels, m.value)
	}

	e.writeHistogram(w, "handshake_duration_milliseconds", "Handshake duration in milliseconds", labels, snap.HandshakeLatency)
	e.writeHistogram(w, "seal_duration_microseconds", "Time from sending ConfidentialData to its acknowledgement in microseconds", labels, snap.SealLatency)
	e.writeHistogram(w, "open_duration_microseconds", "ConfidentialData decryption duration in microseconds", labels, snap.OpenLatency)
	e.writePrimitiveHistograms(w, labels, snap.PrimitiveLatency)
}

// writeHelp writes a HELP line.
func (e *PrometheusExporter) writeHelp(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s_%s %s\n", e.namespace, name, help)
}

// writeType writes a TYPE line.
func (e *PrometheusExporter) writeType(w io.Writer, name, typ string) {
	fmt.Fprintf(w, "# TYPE %s_%s %s\n", e.namespace, name, typ)
}

// writeMetric writes a single metric line.
func (e *PrometheusExporter) writeMetric(w io.Writer, name, labels string, value float64) {
	if labels != "" {
		fmt.Fprintf(w, "%s_%s{%s} %g\n", e.namespace, name, labels, value)
	} else {
		fmt.Fprintf(w, "%s_%s %g\n", e.namespace, name, value)
	}
}

// writeHistogram writes a histogram family with a single series.
func (e *PrometheusExporter) writeHistogram(w io.Writer, name, help, labels string, h HistogramSummary) {
	e.writeHelp(w, name, help)
	e.writeType(w, name, "histogram")
	e.writeHistogramSeries(w, e.namespace+"_"+name, labels, h)
}

// writePrimitiveHistograms writes one series per signature or KEM operation,
// distinguished by an op label.
func (e *PrometheusExporter) writePrimitiveHistograms(w io.Writer, labels string, byOp map[string]HistogramSummary) {
	name := "primitive_duration_microseconds"
	e.writeHelp(w, name, "ML-DSA-44 and ML-KEM-512 operation duration in microseconds")
	e.writeType(w, name, "histogram")
	for _, op := range PrimitiveOps {
		h, ok := byOp[op]
		if !ok {
			continue
		}
		opLabel := `op="` + op + `"`
		if labels != "" {
			opLabel = labels + "," + opLabel
		}
		e.writeHistogramSeries(w, e.namespace+"_"+name, opLabel, h)
	}
}

func (e *PrometheusExporter) writeHistogramSeries(w io.Writer, fullName, labels string, h HistogramSummary) {
	sep := ""
	if labels != "" {
		sep = ","
	}
	for _, b := range h.Buckets {
		le := "+Inf"
		if !math.IsInf(b.UpperBound, 1) {
			le = fmt.Sprintf("%g", b.UpperBound)
		}
		fmt.Fprintf(w, "%s_bucket{%s%sle=\"%s\"} %d\n", fullName, labels, sep, le, b.Count)
	}
	if labels != "" {
		fmt.Fprintf(w, "%s_sum{%s} %g\n", fullName, labels, h.Sum)
		fmt.Fprintf(w, "%s_count{%s} %d\n", fullName, labels, h.Count)
	} else {
		fmt.Fprintf(w, "%s_sum %g\n", fullName, h.Sum)
		fmt.Fprintf(w, "%s_count %d\n", fullName, h.Count)
	}
}

// formatLabels converts Labels to Prometheus label format.
func (e *PrometheusExporter) formatLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}

	// Sort keys for consistent output
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		// Escape label values
		v := escapePromValue(labels[k])
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", k, v))
	}

	return strings.Join(parts, ",")
}

// escapePromValue escapes a string for use as a Prometheus label value.
func escapePromValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
