package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPrometheusExporterWriteMetrics(t *testing.T) {
	c := NewCollector(Labels{"instance": "test"})

	// Add some metrics
	c.SessionStarted()
	c.RecordBytesSent(1000)
	c.RecordHandshakeLatency(100 * time.Millisecond)

	exp := NewPrometheusExporter(c, "pqlink")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	// Check for expected metrics
	expectedMetrics := []string{
		"pqlink_sessions_active",
		"pqlink_sessions_total",
		"pqlink_bytes_sent_total",
		"pqlink_handshake_duration_milliseconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(output, metric) {
			t.Errorf("expected metric %q in output", metric)
		}
	}

	// Check for labels
	if !strings.Contains(output, `instance="test"`) {
		t.Error("expected label instance=\"test\" in output")
	}

	// Check for HELP and TYPE lines
	if !strings.Contains(output, "# HELP pqlink_sessions_active") {
		t.Error("expected HELP line for sessions_active")
	}
	if !strings.Contains(output, "# TYPE pqlink_sessions_active gauge") {
		t.Error("expected TYPE line for sessions_active")
	}
}

func TestPrometheusExporterHandler(t *testing.T) {
	c := NewCollector(nil)
	c.SessionStarted()

	exp := NewPrometheusExporter(c, "test")
	handler := exp.Handler()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") {
		t.Errorf("expected text/plain content type, got %s", contentType)
	}

	body := w.Body.String()
	if !strings.Contains(body, "test_sessions_active") {
		t.Error("expected sessions_active metric in response")
	}
}

func TestPrometheusExporterHistogram(t *testing.T) {
	c := NewCollector(nil)
	c.RecordHandshakeLatency(50 * time.Millisecond)
	c.RecordHandshakeLatency(150 * time.Millisecond)

	exp := NewPrometheusExporter(c, "test")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	// Check for histogram bucket format
	if !strings.Contains(output, "_bucket{le=") {
		t.Error("expected histogram bucket format")
	}
	if !strings.Contains(output, "_sum") {
		t.Error("expected histogram sum")
	}
	if !strings.Contains(output, "_count") {
		t.Error("expected histogram count")
	}
	if !strings.Contains(output, `le="+Inf"`) {
		t.Error("expected +Inf bucket")
	}
}

func TestPrometheusExporterPrimitiveFamily(t *testing.T) {
	c := NewCollector(Labels{"service": "pqlink"})
	c.RecordPrimitiveLatency("decapsulate", 80*time.Microsecond)

	var buf bytes.Buffer
	NewPrometheusExporter(c, "pqlink").WriteMetrics(&buf)
	out := buf.String()

	if n := strings.Count(out, "# TYPE pqlink_primitive_duration_microseconds histogram"); n != 1 {
		t.Errorf("primitive family declared %d times", n)
	}
	for _, op := range PrimitiveOps {
		if !strings.Contains(out, `pqlink_primitive_duration_microseconds_count{service="pqlink",op="`+op+`"}`) {
			t.Errorf("no %s series", op)
		}
	}
	if !strings.Contains(out, `pqlink_primitive_duration_microseconds_bucket{service="pqlink",op="decapsulate",le="100"} 1`) {
		t.Error("decapsulate observation not in the 100µs bucket")
	}
}

func TestPrometheusExporterLabelEscaping(t *testing.T) {
	c := NewCollector(Labels{
		"path":    "/api/v1",
		"message": "hello \"world\"",
		"newline": "line1\nline2",
	})

	exp := NewPrometheusExporter(c, "test")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	// Check proper escaping
	if strings.Contains(output, "\n\"") {
		t.Error("newline should be escaped in labels")
	}
	if strings.Contains(output, `"hello "world""`) {
		t.Error("quotes should be escaped in labels")
	}
}

func TestPrometheusExporterAllMetricTypes(t *testing.T) {
	c := NewCollector(nil)

	c.SessionStarted()
	c.SessionEnded()
	c.SessionFailed()
	c.RecordBytesSent(100)
	c.RecordBytesReceived(200)
	c.RecordMessageSent()
	c.RecordMessageReceived()
	c.RecordAuthFailure()
	c.RecordCryptoError()
	c.RecordParseError()
	c.RecordSequenceError()
	c.RecordUnknownMessage()
	c.RecordSealError()
	c.RecordOpenError()
	c.RecordConnectionRateLimit()
	c.RecordHandshakeRateLimit()
	c.RecordHandshakeLatency(100 * time.Millisecond)
	c.RecordSealLatency(10 * time.Microsecond)
	c.RecordOpenLatency(15 * time.Microsecond)

	exp := NewPrometheusExporter(c, "link")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	expectedMetrics := []string{
		"sessions_active",
		"sessions_total",
		"sessions_failed_total",
		"bytes_sent_total",
		"bytes_received_total",
		"messages_sent_total",
		"messages_received_total",
		"auth_failures_total",
		"crypto_errors_total",
		"parse_errors_total",
		"sequence_errors_total",
		"unknown_messages_total",
		"seal_errors_total",
		"open_errors_total",
		"connection_rate_limits_total",
		"handshake_rate_limits_total",
		"uptime_seconds",
		"handshake_duration_milliseconds",
		"seal_duration_microseconds",
		"open_duration_microseconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(output, "link_"+metric) {
			t.Errorf("missing metric: link_%s", metric)
		}
	}
	if !strings.Contains(output, "link_sequence_errors_total 1\n") {
		t.Error("expected sequence_errors_total value of 1")
	}
}

func TestPrometheusExporterEmptyLabels(t *testing.T) {
	c := NewCollector(nil)
	c.SessionStarted()

	exp := NewPrometheusExporter(c, "test")

	var buf bytes.Buffer
	exp.WriteMetrics(&buf)

	output := buf.String()

	// With no labels, metrics should not have curly braces (except histograms)
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "test_sessions_active") {
			if strings.Contains(line, "{") && !strings.Contains(line, "_bucket") {
				t.Errorf("gauge metric should not have labels: %s", line)
			}
		}
	}
}
