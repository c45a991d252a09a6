package readiness

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

const gateTestPrefix = "readiness:gate_test"

func TestGate_InitiallyUninitialized(t *testing.T) {
	g := New()
	if g.IsReady() {
		t.Fatalf("%s - new gate should not be ready", gateTestPrefix)
	}

	var zero Gate
	if zero.IsReady() {
		t.Fatalf("%s - zero gate should not be ready", gateTestPrefix)
	}
}

func TestGate_MarkReady_Idempotent(t *testing.T) {
	g := New()
	if !g.MarkReady() {
		t.Errorf("%s - first MarkReady should report the transition", gateTestPrefix)
	}
	if g.MarkReady() {
		t.Errorf("%s - second MarkReady should be a no-op", gateTestPrefix)
	}
	if !g.IsReady() {
		t.Errorf("%s - gate should stay ready", gateTestPrefix)
	}
}

func TestGate_Require(t *testing.T) {
	g := New()

	err := g.Require("bestMove")
	if err == nil {
		t.Fatalf("%s - expected error before ready", gateTestPrefix)
	}
	if err.Error() != "Engine not ready" {
		t.Errorf("%s - message = %q, want %q", gateTestPrefix, err.Error(), "Engine not ready")
	}
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("%s - expected errors.Is(err, ErrNotReady)", gateTestPrefix)
	}
	var nre *NotReadyError
	if !errors.As(err, &nre) || nre.Method != "bestMove" {
		t.Errorf("%s - expected NotReadyError for bestMove, got %#v", gateTestPrefix, err)
	}

	g.MarkReady()
	if err := g.Require("bestMove"); err != nil {
		t.Errorf("%s - unexpected error after ready: %v", gateTestPrefix, err)
	}
}

func TestGate_OnReady_RunsOnce(t *testing.T) {
	g := New()
	var calls atomic.Int32
	g.OnReady(func() { calls.Add(1) })
	g.OnReady(func() { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.MarkReady()
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 2 {
		t.Errorf("%s - hooks ran %d times, want 2", gateTestPrefix, got)
	}

	g.OnReady(func() { calls.Add(1) })
	if got := calls.Load(); got != 2 {
		t.Errorf("%s - hook registered after ready should not run, got %d calls", gateTestPrefix, got)
	}
}
