package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"sync"
	"time"
)

// HealthStatus is the verdict of a health report.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// degradedErrorRate is the share of failed seals, opens and primitives per
// ConfidentialData message above which a listener reports degraded.
const degradedErrorRate = 0.01

// CheckFunc reports a problem as a non-nil error.
type CheckFunc func() error

// HealthCheck answers health requests for a pqlink listener from its
// registered checks and its collector.
type HealthCheck struct {
	collector *Collector
	version   string
	started   time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// HealthResponse is the JSON body of /health.
type HealthResponse struct {
	Status        HealthStatus           `json:"status"`
	Version       string                 `json:"version,omitempty"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]CheckResult `json:"checks,omitempty"`
	Metrics       *HealthMetrics         `json:"metrics,omitempty"`
}

// CheckResult is the outcome of one registered check.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Took    string       `json:"took"`
}

// HealthMetrics summarizes the collector.
type HealthMetrics struct {
	SessionsActive uint64  `json:"sessions_active"`
	SessionsTotal  uint64  `json:"sessions_total"`
	SessionsFailed uint64  `json:"sessions_failed"`
	AuthFailures   uint64  `json:"auth_failures"`
	RateLimited    uint64  `json:"rate_limited"`
	BytesSent      uint64  `json:"bytes_sent"`
	BytesReceived  uint64  `json:"bytes_received"`
	HandshakeP95Ms float64 `json:"handshake_p95_ms"`
	ErrorRate      float64 `json:"error_rate"`
}

// NewHealthCheck creates a health check reporting version. collector may be
// nil, in which case the response carries no metrics.
func NewHealthCheck(collector *Collector, version string) *HealthCheck {
	return &HealthCheck{
		collector: collector,
		version:   version,
		started:   time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// AddCheck registers check under name, replacing any check of that name.
func (h *HealthCheck) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered check. Any failing check makes the listener
// unhealthy; an error rate above one percent makes it degraded.
func (h *HealthCheck) Check() HealthResponse {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make([]CheckFunc, 0, len(names))
	slices.Sort(names)
	for _, name := range names {
		checks = append(checks, h.checks[name])
	}
	h.mu.RUnlock()

	resp := HealthResponse{
		Status:        HealthStatusHealthy,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if len(checks) > 0 {
		resp.Checks = make(map[string]CheckResult, len(checks))
	}
	for i, check := range checks {
		start := time.Now()
		err := check()
		res := CheckResult{Status: HealthStatusHealthy, Took: time.Since(start).String()}
		if err != nil {
			res.Status, res.Message = HealthStatusUnhealthy, err.Error()
			resp.Status = HealthStatusUnhealthy
		}
		resp.Checks[names[i]] = res
	}

	if h.collector == nil {
		return resp
	}
	snap := h.collector.Snapshot()
	m := &HealthMetrics{
		SessionsActive: snap.SessionsActive,
		SessionsTotal:  snap.SessionsTotal,
		SessionsFailed: snap.SessionsFailed,
		AuthFailures:   snap.AuthFailures,
		RateLimited:    snap.ConnectionRateLimits + snap.HandshakeRateLimits,
		BytesSent:      snap.BytesSent,
		BytesReceived:  snap.BytesReceived,
		HandshakeP95Ms: snap.HandshakeLatency.P95,
	}
	if msgs := snap.MessagesSent + snap.MessagesReceived; msgs > 0 {
		failed := snap.SealErrors + snap.OpenErrors + snap.CryptoErrors
		m.ErrorRate = float64(failed) / float64(msgs)
		if m.ErrorRate > degradedErrorRate && resp.Status == HealthStatusHealthy {
			resp.Status = HealthStatusDegraded
		}
	}
	resp.Metrics = m
	return resp
}

// Handler serves the full report. Degraded still answers 200.
func (h *HealthCheck) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := h.Check()
		writeJSON(w, statusCode(resp.Status), resp)
	})
}

// LivenessHandler answers 200 while the process can serve HTTP at all.
func (h *HealthCheck) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
}

// ReadinessHandler answers 503 while any registered check fails.
func (h *HealthCheck) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := h.Check().Status
		writeJSON(w, statusCode(status), map[string]any{
			"status": status,
			"ready":  status != HealthStatusUnhealthy,
		})
	})
}

func statusCode(s HealthStatus) int {
	if s == HealthStatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// MemoryCheck fails when the Go heap holds more than limit bytes. Each
// listener keeps ML-KEM-512 keys and per-connection buffers, so heap growth
// tracks open sessions.
func MemoryCheck(limit uint64) CheckFunc {
	return func() error {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.HeapAlloc > limit {
			return fmt.Errorf("heap %d bytes exceeds %d", ms.HeapAlloc, limit)
		}
		return nil
	}
}
