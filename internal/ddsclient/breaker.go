package ddsclient

import (
	"sync"
	"time"
)

// breakerState is a three-state circuit breaker: closed (normal), open
// (failing fast), half-open (probing whether the Core has recovered). A
// client has no visibility into the Core's queue depth in the in-process
// model, only into whether its own requests are timing out, so the trigger
// here is repeated timeouts rather than a saturation threshold.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

// circuitBreaker opens after threshold CoreUnresponsive
// results in a row, so a client facing a wedged Core fails fast locally
// instead of re-posting into a mailbox nobody is draining.
type circuitBreaker struct {
	mu sync.Mutex

	state      breakerState
	failures   int
	openedAt   time.Time
	cooldown   time.Duration
	threshold  int
	halfOpenOK int
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a request may proceed right now.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen && time.Since(b.openedAt) > b.cooldown {
		b.state = breakerHalfOpen
		b.halfOpenOK = 0
	}
	return b.state != breakerOpen
}

// recordSuccess closes the breaker (or keeps it closed).
func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == breakerHalfOpen {
		b.halfOpenOK++
		if b.halfOpenOK >= 1 {
			b.state = breakerClosed
		}
		return
	}
	b.state = breakerClosed
}

// recordTimeout registers a CoreUnresponsive result and opens the breaker
// once the failure threshold is reached.
func (b *circuitBreaker) recordTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}
