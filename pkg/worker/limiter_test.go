package worker

import (
	"testing"
	"time"
)

const limiterTestPrefix = "worker:limiter_test"

func TestNewLimiter_InvalidArgsDisable(t *testing.T) {
	tests := []struct {
		name  string
		rps   float64
		burst int
	}{
		{"zero rps", 0, 5},
		{"negative rps", -1, 5},
		{"zero burst", 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(tt.rps, tt.burst, time.Minute)
			if l != nil {
				t.Fatalf("%s - expected nil limiter", limiterTestPrefix)
			}
			if !l.Allow("anyone", time.Now()) {
				t.Errorf("%s - nil limiter must allow", limiterTestPrefix)
			}
		})
	}
}

func TestLimiter_PerCallerBuckets(t *testing.T) {
	l := NewLimiter(1, 2, time.Minute)
	now := time.Now()

	if !l.Allow("a", now) || !l.Allow("a", now) {
		t.Fatalf("%s - burst should be allowed", limiterTestPrefix)
	}
	if l.Allow("a", now) {
		t.Errorf("%s - third request in the same instant should be limited", limiterTestPrefix)
	}
	if !l.Allow("b", now) {
		t.Errorf("%s - other callers have their own bucket", limiterTestPrefix)
	}
	if !l.Allow("a", now.Add(1100*time.Millisecond)) {
		t.Errorf("%s - bucket should refill", limiterTestPrefix)
	}
}

func TestLimiter_EvictsIdleCallers(t *testing.T) {
	l := NewLimiter(100, 100, time.Second)
	start := time.Now()
	l.Allow("idle", start)

	later := start.Add(time.Hour)
	for i := 0; i < 512; i++ {
		l.Allow("busy", later)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byKey["idle"]; ok {
		t.Errorf("%s - idle caller was not evicted", limiterTestPrefix)
	}
	if _, ok := l.byKey["busy"]; !ok {
		t.Errorf("%s - busy caller was evicted", limiterTestPrefix)
	}
}
