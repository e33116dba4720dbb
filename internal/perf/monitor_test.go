package perf

import (
	"sync"
	"testing"
	"time"
)

func TestBeginEnd(t *testing.T) {
	m := New(true)

	end := m.Begin()
	if got := m.Report().ActiveRequests; got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
	end()
	r := m.Report()
	if r.ActiveRequests != 0 {
		t.Errorf("active after end = %d", r.ActiveRequests)
	}
	if r.SampleCount != 1 {
		t.Errorf("samples = %d, want 1", r.SampleCount)
	}
}

func TestActiveNeverNegative(t *testing.T) {
	m := New(true)
	end := m.Begin()
	end()
	// A stray second call must not drive the count below zero.
	end()
	if got := m.Report().ActiveRequests; got < 0 {
		t.Fatalf("active went negative: %d", got)
	}
}

func TestWindowBound(t *testing.T) {
	m := New(true)
	for i := 0; i < windowSize+50; i++ {
		m.Observe(time.Millisecond)
	}
	if got := m.Report().SampleCount; got != windowSize {
		t.Fatalf("window = %d, want %d", got, windowSize)
	}
}

func TestReportStats(t *testing.T) {
	m := New(true)
	m.Observe(10 * time.Millisecond)
	m.Observe(20 * time.Millisecond)
	m.Observe(30 * time.Millisecond)

	r := m.Report()
	if r.MinResponseSec != 0.01 {
		t.Errorf("min = %v", r.MinResponseSec)
	}
	if r.MaxResponseSec != 0.03 {
		t.Errorf("max = %v", r.MaxResponseSec)
	}
	if r.AvgResponseSec < 0.019 || r.AvgResponseSec > 0.021 {
		t.Errorf("avg = %v", r.AvgResponseSec)
	}
}

func TestDisabledMonitor(t *testing.T) {
	m := New(false)
	end := m.Begin()
	m.Observe(time.Second)
	end()
	r := m.Report()
	if r.ActiveRequests != 0 || r.SampleCount != 0 {
		t.Errorf("disabled monitor recorded: %+v", r)
	}
}

func TestConcurrentBegin(t *testing.T) {
	m := New(true)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			end := m.Begin()
			time.Sleep(time.Millisecond)
			end()
		}()
	}
	wg.Wait()
	r := m.Report()
	if r.ActiveRequests != 0 {
		t.Errorf("active = %d after all ended", r.ActiveRequests)
	}
	if r.SampleCount != 32 {
		t.Errorf("samples = %d, want 32", r.SampleCount)
	}
}
