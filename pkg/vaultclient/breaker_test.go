package vaultclient

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	b := newCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("expected breaker to allow call %d before threshold", i)
		}
		b.RecordFailure()
	}
	if snap := b.Snapshot(); snap.State != "closed" {
		t.Fatalf("expected closed after 2 of 3 failures, got %s", snap.State)
	}

	b.RecordFailure()
	if snap := b.Snapshot(); snap.State != "open" {
		t.Fatalf("expected open after reaching threshold, got %s", snap.State)
	}
	if b.Allow() {
		t.Fatal("expected breaker to reject calls while open")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	b := newCircuitBreaker(1, 10*time.Millisecond)

	b.RecordFailure()
	if b.Snapshot().State != "open" {
		t.Fatal("expected breaker to open after single failure at threshold 1")
	}
	if b.Allow() {
		t.Fatal("expected breaker to reject calls immediately after opening")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected breaker to allow a probe call after cooldown elapses")
	}
	if b.Snapshot().State != "half_open" {
		t.Fatalf("expected half_open after cooldown probe, got %s", b.Snapshot().State)
	}

	b.RecordSuccess()
	if snap := b.Snapshot(); snap.State != "closed" || snap.ConsecutiveFailures != 0 {
		t.Fatalf("expected closed with reset failure count after success, got %+v", snap)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newCircuitBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}
	b.RecordFailure()
	if snap := b.Snapshot(); snap.State != "open" {
		t.Fatalf("expected a failed half-open probe to reopen the breaker, got %s", snap.State)
	}
}
