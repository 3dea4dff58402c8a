package utils

import (
	"sync"
	"testing"
	"time"
)

func TestLatencyTrackerPercentiles(t *testing.T) {
	tracker := NewLatencyTracker(10)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("empty tracker should report 0, got %v", got)
	}
	for _, ms := range []int{10, 20, 30, 40, 50} {
		tracker.Observe(time.Duration(ms) * time.Millisecond)
	}

	cases := []struct {
		p        float64
		min, max time.Duration
	}{
		{p: 0, min: 10 * time.Millisecond, max: 10 * time.Millisecond},
		{p: 50, min: 30 * time.Millisecond, max: 30 * time.Millisecond},
		{p: 95, min: 40 * time.Millisecond, max: 50 * time.Millisecond},
		{p: 100, min: 50 * time.Millisecond, max: 50 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := tracker.Percentile(tc.p); got < tc.min || got > tc.max {
			t.Fatalf("p%.0f: expected within [%v,%v], got %v", tc.p, tc.min, tc.max, got)
		}
	}
}

func TestLatencyTrackerRingKeepsNewestSamples(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 || tracker.Total() != 10 {
		t.Fatalf("expected 3 retained of 10 observed, got %d of %d", tracker.Count(), tracker.Total())
	}
	if oldest := tracker.Percentile(0); oldest != 7*time.Millisecond {
		t.Fatalf("expected oldest retained sample 7ms, got %v", oldest)
	}
}

func TestLatencyTrackerConcurrentObserve(t *testing.T) {
	tracker := NewLatencyTracker(0)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tracker.Observe(time.Millisecond)
				_ = tracker.Percentile(95)
			}
		}()
	}
	wg.Wait()
	if tracker.Total() != 400 {
		t.Fatalf("expected 400 observations, got %d", tracker.Total())
	}
}
