// Package perf tracks in-flight request count and a sliding window of
// per-request latencies.
package perf

import (
	"runtime"
	"sync"
	"time"
)

// windowSize bounds the latency and system-metric rings.
const windowSize = 100

// Report is a point-in-time view of the monitor.
type Report struct {
	ActiveRequests int     `json:"active_requests"`
	SampleCount    int     `json:"sample_count"`
	AvgResponseSec float64 `json:"avg_response_time"`
	MinResponseSec float64 `json:"min_response_time"`
	MaxResponseSec float64 `json:"max_response_time"`
	HeapAllocMB    float64 `json:"heap_alloc_mb"`
	Goroutines     int     `json:"goroutines"`
}

type Monitor struct {
	mu        sync.Mutex
	active    int
	latencies []time.Duration
	enabled   bool
}

// New returns a monitor. A disabled monitor accepts calls and reports zeros.
func New(enabled bool) *Monitor {
	return &Monitor{enabled: enabled}
}

// Begin marks a request as in flight and returns a function that records its
// latency and marks it done. The end function is safe to call exactly once on
// any exit path.
func (m *Monitor) Begin() func() {
	if !m.enabled {
		return func() {}
	}
	start := time.Now()
	m.mu.Lock()
	m.active++
	m.mu.Unlock()

	return func() {
		elapsed := time.Since(start)
		m.mu.Lock()
		m.active--
		if m.active < 0 {
			m.active = 0
		}
		m.latencies = append(m.latencies, elapsed)
		if len(m.latencies) > windowSize {
			m.latencies = m.latencies[len(m.latencies)-windowSize:]
		}
		m.mu.Unlock()
	}
}

// Observe records a latency sample without touching the active count. Used by
// components that time an inner operation (provider calls) rather than a
// whole request.
func (m *Monitor) Observe(d time.Duration) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	if len(m.latencies) > windowSize {
		m.latencies = m.latencies[len(m.latencies)-windowSize:]
	}
	m.mu.Unlock()
}

// Report snapshots current state.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{
		ActiveRequests: m.active,
		SampleCount:    len(m.latencies),
		Goroutines:     runtime.NumGoroutine(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.HeapAllocMB = float64(ms.HeapAlloc) / (1024 * 1024)

	if len(m.latencies) == 0 {
		return r
	}
	min, max := m.latencies[0], m.latencies[0]
	var sum time.Duration
	for _, d := range m.latencies {
		sum += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	r.AvgResponseSec = (sum / time.Duration(len(m.latencies))).Seconds()
	r.MinResponseSec = min.Seconds()
	r.MaxResponseSec = max.Seconds()
	return r
}
