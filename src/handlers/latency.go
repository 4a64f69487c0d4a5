package handlers

import (
	"sort"
	"sync/atomic"
	"time"
)

func (h *OrderHandler) recordLatency(latency time.Duration) {
	h.latenciesMu.Lock()
	defer h.latenciesMu.Unlock()

	h.latencies = append(h.latencies, latency)

	// edge case: maintain rolling window by removing oldest measurements
	if len(h.latencies) > h.maxLatencies {
		h.latencies = h.latencies[len(h.latencies)-h.maxLatencies:]
	}
}

func (h *OrderHandler) calculateLatencyPercentiles() (p50, p99, p999 float64) {
	h.latenciesMu.RLock()
	sorted := make([]time.Duration, len(h.latencies))
	copy(sorted, h.latencies)
	h.latenciesMu.RUnlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return percentile(sorted, 0.50), percentile(sorted, 0.99), percentile(sorted, 0.999)
}

func percentile(sorted []time.Duration, q float64) float64 {
	idx := int(float64(len(sorted)) * q)
	// edge case: ensure index is within bounds
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx].Nanoseconds()) / 1e6
}

func (h *OrderHandler) calculateThroughput() float64 {
	uptime := time.Since(h.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&h.OrdersReceived)) / uptime
}
