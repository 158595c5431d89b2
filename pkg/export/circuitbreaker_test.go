// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(threshold, reset)
	cb.now = clk.Now
	return cb, clk
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(5, 30*time.Second)
	if cb.State() != CircuitClosed {
		t.Errorf("expected CircuitClosed, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Error("expected Allow() to return true in Closed state")
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected CircuitClosed with 2/3 failures, got %v", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Errorf("expected CircuitOpen after 3 failures, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("expected Allow() to return false in Open state")
	}
	if cb.FailureCount() != 3 {
		t.Errorf("expected failure count 3, got %d", cb.FailureCount())
	}
}

func TestCircuitBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()

	clk.Advance(time.Minute)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected CircuitHalfOpen after timeout, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected first probe to be allowed")
	}
	if cb.Allow() {
		t.Error("expected second concurrent probe to be rejected")
	}
}

func TestCircuitBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	clk.Advance(time.Minute)

	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("expected CircuitClosed after success, got %v", cb.State())
	}
	if cb.FailureCount() != 0 {
		t.Errorf("expected failure count reset, got %d", cb.FailureCount())
	}
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cb, clk := newTestBreaker(5, time.Minute)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clk.Advance(time.Minute)

	cb.Allow()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Errorf("expected CircuitOpen after failed probe, got %v", cb.State())
	}
}

func TestCircuitStateString(t *testing.T) {
	tests := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(42): "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("expected %q, got %q", want, s.String())
		}
	}
}
