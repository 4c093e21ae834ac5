package vaultclient

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's three-state lifecycle.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker is the only per-process mutable state the vault client
// keeps outside the persistence store, as the design notes permit. One
// breaker guards one remote endpoint (one chain_id's vault base URL).
type circuitBreaker struct {
	mu                  sync.Mutex
	state               breakerState
	consecutiveFailures int
	threshold           int
	cooldown            time.Duration
	openedAt            time.Time
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		state:     breakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call may proceed, transitioning open -> half-open
// once the cooldown has elapsed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.consecutiveFailures = 0
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is reached, or immediately re-opens on a failed half-open probe.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

// Snapshot is a point-in-time, read-only view of breaker state for the
// observability endpoint.
type Snapshot struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func (b *circuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	var state string
	switch b.state {
	case breakerClosed:
		state = "closed"
	case breakerOpen:
		state = "open"
	case breakerHalfOpen:
		state = "half_open"
	}
	return Snapshot{State: state, ConsecutiveFailures: b.consecutiveFailures}
}
