package metrics

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// Bucket layouts. A desktop completes a pqlink handshake in a few
// milliseconds; a microcontroller peer running ML-DSA-44 signing and
// ML-KEM-512 key generation in software can take several seconds, so the
// handshake and primitive layouts reach well past what a server would see.
var (
	// HandshakeBuckets bound whole handshakes, in milliseconds.
	HandshakeBuckets = []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

	// PrimitiveBuckets bound one sign, verify, encapsulate or decapsulate,
	// in microseconds.
	PrimitiveBuckets = []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 50000, 100000, 500000, 1e6, 5e6}

	// DataBuckets bound ConfidentialData seal-to-ack and open times, in
	// microseconds.
	DataBuckets = []float64{5, 10, 25, 50, 100, 250, 1000, 5000, 25000, 100000, 1e6}
)

// Histogram counts observations into fixed buckets. It is safe for
// concurrent use.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64 // one per bound, then the +Inf slot
	sum    float64
	n      uint64
	lo, hi float64
}

// NewHistogram creates a histogram with the given upper bounds. Bounds are
// sorted and deduplicated.
func NewHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	b = slices.Compact(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b)+1)}
}

// Observe records v. A value equal to a bound lands in that bound's bucket.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[sort.SearchFloat64s(h.bounds, v)]++
	if h.n == 0 || v < h.lo {
		h.lo = v
	}
	if h.n == 0 || v > h.hi {
		h.hi = v
	}
	h.sum += v
	h.n++
}

// ObserveDuration records d expressed in unit, keeping the fraction.
func (h *Histogram) ObserveDuration(d, unit time.Duration) {
	h.Observe(float64(d) / float64(unit))
}

// HistogramSummary is a point-in-time copy of a histogram.
type HistogramSummary struct {
	Count   uint64        `json:"count"`
	Sum     float64       `json:"sum"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
	Mean    float64       `json:"mean"`
	P50     float64       `json:"p50"`
	P95     float64       `json:"p95"`
	P99     float64       `json:"p99"`
	Buckets []BucketCount `json:"buckets"`
}

// BucketCount is the cumulative count at or below UpperBound.
type BucketCount struct {
	UpperBound float64 `json:"le"`
	Count      uint64  `json:"count"`
}

// Summary returns cumulative buckets and estimated quantiles.
func (h *Histogram) Summary() HistogramSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := HistogramSummary{Buckets: make([]BucketCount, 0, len(h.counts))}
	var total uint64
	for i, c := range h.counts {
		total += c
		bound := math.Inf(1)
		if i < len(h.bounds) {
			bound = h.bounds[i]
		}
		s.Buckets = append(s.Buckets, BucketCount{UpperBound: bound, Count: total})
	}
	if h.n == 0 {
		return s
	}
	s.Count, s.Sum, s.Min, s.Max = h.n, h.sum, h.lo, h.hi
	s.Mean = h.sum / float64(h.n)
	s.P50 = h.quantile(0.50)
	s.P95 = h.quantile(0.95)
	s.P99 = h.quantile(0.99)
	return s
}

// quantile interpolates linearly inside the bucket holding rank q*n, clamped
// to the observed range. Callers hold h.mu.
func (h *Histogram) quantile(q float64) float64 {
	rank := q * float64(h.n)
	var below uint64
	for i, c := range h.counts {
		if c == 0 || float64(below+c) < rank {
			below += c
			continue
		}
		lower := h.lo
		if i > 0 {
			lower = max(h.bounds[i-1], h.lo)
		}
		upper := h.hi
		if i < len(h.bounds) {
			upper = min(h.bounds[i], h.hi)
		}
		return lower + (rank-float64(below))/float64(c)*(upper-lower)
	}
	return h.hi
}

// Reset clears all observations.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.counts)
	h.sum, h.n, h.lo, h.hi = 0, 0, 0, 0
}
