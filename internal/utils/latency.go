package utils

import (
	"sync"
	"time"
)

// LatencyTracker keeps a bounded ring of recent durations and computes percentiles.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	full    bool
	total   int
}

// NewLatencyTracker creates a tracker retaining up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{samples: make([]time.Duration, maxSize)}
}

// Observe records a new duration, overwriting the oldest once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples[l.next] = d
	l.next = (l.next + 1) % len(l.samples)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// Percentile returns the p-th (0-100) retained duration. Zero if no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	retained := l.retained()
	values := make([]float64, len(retained))
	for i, d := range retained {
		values[i] = float64(d)
	}
	l.mu.RUnlock()

	return time.Duration(Percentile(values, p))
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.retained())
}

// Total returns how many samples were ever observed.
func (l *LatencyTracker) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

func (l *LatencyTracker) retained() []time.Duration {
	if l.full {
		return l.samples
	}
	return l.samples[:l.next]
}
